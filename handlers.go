package picchu

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/klipach/picchu/chat"
	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/friend"
	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/profile"
)

const (
	peerParam  = "peer"
	userParam  = "user"
	queryParam = "q"
	modeParam  = "mode"
	modeOnce   = "once"

	actionSend   = "send"
	actionAccept = "accept"
	actionReject = "reject"
	actionCancel = "cancel"

	maxPictureSize = 10 << 20
)

func transcriptEvent(me, peer string, msgs []contract.Message) contract.TranscriptEvent {
	views := make([]contract.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, contract.MessageView{
			ID:        m.ID,
			Sender:    m.Sender,
			Receiver:  m.Receiver,
			Message:   m.Body,
			HTML:      chat.Render(m.Body),
			Timestamp: m.Timestamp,
			Mine:      m.Sender == me,
		})
	}
	return contract.TranscriptEvent{Peer: peer, Messages: views}
}

func conversationsEvent(list []chat.Conversation) contract.ConversationsEvent {
	views := make([]contract.ConversationView, 0, len(list))
	for _, c := range list {
		views = append(views, contract.ConversationView{
			Peer:            c.Peer,
			LastMessage:     c.LastMessage,
			Preview:         chat.Preview(c.LastMessage),
			LastMessageTime: c.LastMessageTime,
		})
	}
	return contract.ConversationsEvent{Conversations: views}
}

func (s *server) conversation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "Conversation", http.MethodGet)
	if !ok {
		return
	}
	peer := r.URL.Query().Get(peerParam)
	if peer == "" {
		http.Error(w, "Bad Request: missing peer", http.StatusBadRequest)
		return
	}
	logger := req.logger.With(slog.String(log.PeerLogField, peer))
	ctx := log.WithLogger(req.ctx, logger)

	send, err := SetupEventStream(w)
	if err != nil {
		logger.ErrorContext(ctx, "streaming unsupported!")
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	err = s.merger.Watch(ctx, req.user, peer, func(ctx context.Context, msgs []contract.Message) error {
		return send(ctx, transcriptEvent(req.user, peer, msgs))
	})
	if !streamEnded(err) {
		logger.ErrorContext(ctx, "conversation stream stopped", slog.String(log.ErrorMsgLogField, err.Error()))
	}
}

func (s *server) conversations(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "Conversations", http.MethodGet)
	if !ok {
		return
	}
	friends, err := s.aggregator.Friends(req.ctx, req.user)
	if err != nil {
		storeFailure(w, req, "Failed to load friends", err)
		return
	}

	send, err := SetupEventStream(w)
	if err != nil {
		req.logger.ErrorContext(req.ctx, "streaming unsupported!")
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	publish := func(ctx context.Context, list []chat.Conversation) error {
		return send(ctx, conversationsEvent(list))
	}
	if len(friends) == 0 {
		if err := publish(req.ctx, nil); err != nil {
			return
		}
	}

	if r.URL.Query().Get(modeParam) == modeOnce {
		err = s.aggregator.Load(req.ctx, req.user, friends, publish)
	} else {
		err = s.aggregator.Watch(req.ctx, req.user, friends, publish)
	}
	if !streamEnded(err) {
		req.logger.ErrorContext(req.ctx, "conversations stream stopped", slog.String(log.ErrorMsgLogField, err.Error()))
	}
}

func (s *server) messages(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "Messages", http.MethodPost)
	if !ok {
		return
	}
	var in contract.PostMessageRequest
	if !decodeJSON(w, r, req, &in) {
		return
	}
	msg, err := chat.Post(req.ctx, s.ds, req.user, in.To, in.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrSelfMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		storeFailure(w, req, "Failed to send message", err)
		return
	}
	writeJSON(w, req, http.StatusCreated, contract.PostMessageResponse{ID: msg.ID})
}

func (s *server) friendRequests(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "FriendRequests", http.MethodGet, http.MethodPost)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		if other := r.URL.Query().Get(userParam); other != "" {
			status, err := s.friends.Status(req.ctx, req.user, other)
			if err != nil {
				storeFailure(w, req, "Failed to check friend request status", err)
				return
			}
			writeJSON(w, req, http.StatusOK, contract.FriendStatusResponse{User: other, Status: string(status)})
			return
		}
		pending := s.friends.Requests(req.user)
		if err := pending.Load(req.ctx); err != nil {
			storeFailure(w, req, "Failed to load friend requests", err)
			return
		}
		writeJSON(w, req, http.StatusOK, contract.PendingRequestsResponse{Requests: pendingViews(pending.Items())})
		return
	}

	var in contract.FriendRequestAction
	if !decodeJSON(w, r, req, &in) {
		return
	}
	if in.User == "" {
		http.Error(w, "Bad Request: missing user", http.StatusBadRequest)
		return
	}
	req.logger = req.logger.With(slog.String(log.PeerLogField, in.User), slog.String("action", in.Action))
	req.ctx = log.WithLogger(req.ctx, req.logger)

	var (
		err     error
		status  string
		pending *friend.Requests
	)
	switch in.Action {
	case actionSend:
		status = string(friend.Pending)
		err = s.friends.Send(req.ctx, req.user, in.User)
	case actionCancel:
		status = string(friend.None)
		err = s.friends.Cancel(req.ctx, req.user, in.User)
	case actionAccept, actionReject:
		pending = s.friends.Requests(req.user)
		if err := pending.Load(req.ctx); err != nil {
			storeFailure(w, req, "Failed to load friend requests", err)
			return
		}
		if in.Action == actionAccept {
			status = string(friend.Accepted)
			err = pending.Accept(req.ctx, in.User)
		} else {
			status = string(contract.StatusRejected)
			err = pending.Reject(req.ctx, in.User)
		}
	default:
		http.Error(w, "Bad Request: unknown action "+in.Action, http.StatusBadRequest)
		return
	}

	var partial *friend.PartialFailureError
	switch {
	case errors.Is(err, friend.ErrSelfRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.As(err, &partial):
		req.logger.ErrorContext(req.ctx, "friend request partially accepted", slog.String(log.ErrorMsgLogField, err.Error()))
		writeJSON(w, req, http.StatusInternalServerError, contract.FriendStatusResponse{
			User:    in.User,
			Status:  string(friend.Pending),
			Pending: pendingViews(pending.Items()),
			Error:   "Friend request was only partly accepted, please accept it again",
		})
		return
	case err != nil:
		storeFailure(w, req, "Failed to "+in.Action+" friend request", err)
		return
	}
	req.logger.InfoContext(req.ctx, "friend request updated")

	resp := contract.FriendStatusResponse{User: in.User, Status: status}
	if pending != nil {
		resp.Pending = pendingViews(pending.Items())
	}
	writeJSON(w, req, http.StatusOK, resp)
}

func pendingViews(items []friend.PendingRequest) []contract.PendingRequestView {
	views := make([]contract.PendingRequestView, 0, len(items))
	for _, p := range items {
		views = append(views, contract.PendingRequestView{From: p.From, DisplayName: p.DisplayName})
	}
	return views
}

func (s *server) users(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "Users", http.MethodGet, http.MethodPost)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query().Get(queryParam)
		if q == "" {
			user, err := s.profiles.Get(req.ctx, req.user)
			if err != nil {
				storeFailure(w, req, "Failed to load profile", err)
				return
			}
			writeJSON(w, req, http.StatusOK, user)
			return
		}
		matches, err := s.profiles.Search(req.ctx, q)
		if err != nil {
			storeFailure(w, req, "Failed to search users", err)
			return
		}
		users := make([]contract.UserMatch, 0, len(matches))
		for _, m := range matches {
			users = append(users, contract.UserMatch{Key: m.Email, Username: m.Username})
		}
		writeJSON(w, req, http.StatusOK, contract.SearchResponse{Users: users})
		return
	}

	var in contract.RegisterRequest
	if !decodeJSON(w, r, req, &in) {
		return
	}
	if in.Email != "" && in.Email != req.user {
		http.Error(w, "Forbidden: email does not match the signed-in user", http.StatusForbidden)
		return
	}
	user, err := s.profiles.Register(req.ctx, profile.Registration{
		Email:    req.user,
		Name:     in.Name,
		Surname:  in.Surname,
		Username: in.Username,
		Age:      in.Age,
		Gender:   in.Gender,
	})
	switch {
	case errors.Is(err, profile.ErrMissingField), errors.Is(err, profile.ErrInvalidAge):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		storeFailure(w, req, "Failed to save user data", err)
		return
	}
	writeJSON(w, req, http.StatusCreated, user)
}

func (s *server) profilePicture(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "ProfilePicture", http.MethodPost)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPictureSize))
	if err != nil {
		req.logger.ErrorContext(req.ctx, "error while reading request body", slog.String(log.ErrorMsgLogField, err.Error()))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Bad Request: empty image", http.StatusBadRequest)
		return
	}
	url, err := s.profiles.UploadPicture(req.ctx, req.user, data)
	if err != nil {
		storeFailure(w, req, "Failed to upload profile picture", err)
		return
	}
	writeJSON(w, req, http.StatusOK, contract.ProfilePictureResponse{URL: url})
}
