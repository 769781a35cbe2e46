package picchu

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/klipach/picchu/chat"
	"github.com/klipach/picchu/contract"
	"github.com/klipach/picchu/log"
)

const (
	writeWait     = 10 * time.Second
	maxFrameSize  = 16 << 10
	outboundQueue = 16
)

var errStreamClosed = errors.New("message subscriptions closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// callers are identified by their ID token, not by origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *server) conversationSocket(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r, "ConversationSocket", http.MethodGet)
	if !ok {
		return
	}
	peer := r.URL.Query().Get(peerParam)
	if peer == "" {
		http.Error(w, "Bad Request: missing peer", http.StatusBadRequest)
		return
	}
	req.logger = req.logger.With(slog.String(log.PeerLogField, peer))
	req.ctx = log.WithLogger(req.ctx, req.logger)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		req.logger.ErrorContext(req.ctx, "failed to upgrade connection", slog.String(log.ErrorMsgLogField, err.Error()))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	outbound := make(chan any, outboundQueue)
	g, ctx := errgroup.WithContext(req.ctx)
	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		return s.readFrames(ctx, conn, req.user, peer, outbound)
	})
	g.Go(func() error {
		return writeFrames(ctx, conn, outbound)
	})
	g.Go(func() error {
		err := s.merger.Watch(ctx, req.user, peer, func(ctx context.Context, msgs []contract.Message) error {
			return enqueue(ctx, outbound, transcriptEvent(req.user, peer, msgs))
		})
		if err == nil {
			return errStreamClosed
		}
		return err
	})

	err = g.Wait()
	if socketClosed(err) {
		req.logger.DebugContext(req.ctx, "socket closed", slog.String(log.ErrorMsgLogField, err.Error()))
		return
	}
	req.logger.ErrorContext(req.ctx, "socket stopped", slog.String(log.ErrorMsgLogField, err.Error()))
}

// readFrames posts every inbound frame as a message to peer. Failures are reported
// back on the socket, which stays open.
func (s *server) readFrames(ctx context.Context, conn *websocket.Conn, me, peer string, outbound chan<- any) error {
	logger := log.LoggerFromContext(ctx)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var in contract.PostMessageRequest
		if err := json.Unmarshal(data, &in); err != nil {
			logger.WarnContext(ctx, "invalid frame", slog.String(log.ErrorMsgLogField, err.Error()))
			if err := enqueue(ctx, outbound, contract.ErrorEvent{Error: "invalid message format"}); err != nil {
				return err
			}
			continue
		}
		if _, err := chat.Post(ctx, s.ds, me, peer, in.Message); err != nil {
			logger.ErrorContext(ctx, "failed to send message", slog.String(log.ErrorMsgLogField, err.Error()))
			if err := enqueue(ctx, outbound, contract.ErrorEvent{Error: "Failed to send message: " + err.Error()}); err != nil {
				return err
			}
		}
	}
}

// writeFrames is the only writer of conn.
func writeFrames(ctx context.Context, conn *websocket.Conn, outbound <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-outbound:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := conn.WriteJSON(event); err != nil {
				return err
			}
		}
	}
}

func enqueue(ctx context.Context, outbound chan<- any, event any) error {
	select {
	case outbound <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func socketClosed(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, errStreamClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
