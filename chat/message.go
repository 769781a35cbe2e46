package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/store"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSelfMessage  = errors.New("cannot send a message to yourself")
)

var now = time.Now

// Post stores a message from one user to another, stamped with the local clock.
func Post(ctx context.Context, ds store.DocumentStore, from, to, body string) (contract.Message, error) {
	if strings.TrimSpace(body) == "" {
		return contract.Message{}, ErrEmptyMessage
	}
	if from == to {
		return contract.Message{}, ErrSelfMessage
	}

	ts := now().UTC()
	msg := contract.Message{
		Sender:    from,
		Receiver:  to,
		Body:      body,
		Timestamp: &ts,
	}
	key, err := ds.Add(ctx, contract.MessagesCollection, msg)
	if err != nil {
		return contract.Message{}, fmt.Errorf("post message to %s: %w", to, err)
	}
	msg.ID = key
	return msg, nil
}
