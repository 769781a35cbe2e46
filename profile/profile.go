// Package profile manages users/{email} documents: registration, lookup, username search
// and profile pictures.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klipach/picchu/blob"
	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/store"
)

const picturePrefix = "profile_pictures/"

// prefixEnd sorts after every character used in usernames, so the range
// [q, q+prefixEnd] covers all strings starting with q.
const prefixEnd = "\uf8ff"

var (
	ErrMissingField = errors.New("required field is empty")
	ErrInvalidAge   = errors.New("age must be between 0 and 150")
)

var now = time.Now

type Registration struct {
	Email    string
	Name     string
	Surname  string
	Username string
	Age      int
	Gender   string
}

func (r Registration) validate() error {
	for name, v := range map[string]string{
		"email":    r.Email,
		"name":     r.Name,
		"surname":  r.Surname,
		"username": r.Username,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if r.Age < 0 || r.Age > 150 {
		return ErrInvalidAge
	}
	return nil
}

// Match is a username search hit.
type Match struct {
	Email    string
	Username string
}

type Service struct {
	ds    store.DocumentStore
	blobs blob.Store
}

func NewService(ds store.DocumentStore, blobs blob.Store) *Service {
	return &Service{ds: ds, blobs: blobs}
}

// Register writes a fresh profile for r.Email, overwriting any existing one.
func (s *Service) Register(ctx context.Context, r Registration) (contract.User, error) {
	if err := r.validate(); err != nil {
		return contract.User{}, err
	}
	user := contract.User{
		Email:              r.Email,
		Name:               r.Name,
		Surname:            r.Surname,
		Username:           r.Username,
		Birthdate:          now().AddDate(-r.Age, 0, 0).UnixMilli(),
		Gender:             r.Gender,
		CollectedLocations: []string{},
		Friends:            []string{},
		FriendRequests:     []contract.FriendRequest{},
		Badges:             []string{},
		IsOnline:           true,
	}
	if err := s.ds.Set(ctx, contract.UsersCollection, r.Email, user); err != nil {
		return contract.User{}, fmt.Errorf("register %s: %w", r.Email, err)
	}
	return user, nil
}

func (s *Service) Get(ctx context.Context, email string) (contract.User, error) {
	doc, err := s.ds.Get(ctx, contract.UsersCollection, email)
	if err != nil {
		return contract.User{}, fmt.Errorf("load user %s: %w", email, err)
	}
	var user contract.User
	if err := doc.DataTo(&user); err != nil {
		return contract.User{}, fmt.Errorf("decode user %s: %w", email, err)
	}
	return user, nil
}

// Search returns users whose username starts with the lowercased query.
func (s *Service) Search(ctx context.Context, query string) ([]Match, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	docs, err := s.ds.Query(ctx, store.Query{
		Collection: contract.UsersCollection,
		Where: []store.Predicate{
			store.Where(contract.FieldUsername, store.OpGreaterEqual, q),
			store.Where(contract.FieldUsername, store.OpLessEqual, q+prefixEnd),
		},
		OrderBy: []store.Order{{Field: contract.FieldUsername}},
	})
	if err != nil {
		return nil, fmt.Errorf("search users %q: %w", q, err)
	}

	matches := make([]Match, 0, len(docs))
	for _, doc := range docs {
		var user contract.User
		if err := doc.DataTo(&user); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", doc.Key(), err)
		}
		matches = append(matches, Match{Email: doc.Key(), Username: user.Username})
	}
	return matches, nil
}

// UploadPicture stores data as the profile picture of email and records its URL on the profile.
func (s *Service) UploadPicture(ctx context.Context, email string, data []byte) (string, error) {
	url, err := s.blobs.Put(ctx, picturePrefix+email+".jpg", data)
	if err != nil {
		return "", fmt.Errorf("upload profile picture: %w", err)
	}
	if err := s.ds.Update(ctx, contract.UsersCollection, email, contract.FieldProfilePictureURL, url); err != nil {
		return "", fmt.Errorf("save profile picture url: %w", err)
	}
	return url, nil
}
