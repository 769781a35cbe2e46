// Package picchu exposes the chat and friend-request sync core as Cloud Functions.
package picchu

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/klipach/picchu/config"
	"github.com/klipach/picchu/log"
)

func init() {
	functions.HTTP("Conversation", Conversation)
	functions.HTTP("ConversationSocket", ConversationSocket)
	functions.HTTP("Conversations", Conversations)
	functions.HTTP("Messages", Messages)
	functions.HTTP("FriendRequests", FriendRequests)
	functions.HTTP("Users", Users)
	functions.HTTP("ProfilePicture", ProfilePicture)
}

// defaultServer is built on the first request and shared by every function instance.
var defaultServer = sync.OnceValues(func() (*server, error) {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	return setup(ctx, cfg)
})

func serve(w http.ResponseWriter, r *http.Request, handler func(*server, http.ResponseWriter, *http.Request)) {
	s, err := defaultServer()
	if err != nil {
		log.LoggerFromContext(r.Context()).Error("error while initializing services", slog.String(log.ErrorMsgLogField, err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	handler(s, w, r)
}

// Conversation streams the transcript with ?peer= as server-sent events.
func Conversation(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).conversation)
}

// ConversationSocket streams the transcript with ?peer= over a websocket and posts inbound messages.
func ConversationSocket(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).conversationSocket)
}

// Conversations streams the caller's conversation list as server-sent events.
func Conversations(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).conversations)
}

func Messages(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).messages)
}

func FriendRequests(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).friendRequests)
}

func Users(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).users)
}

func ProfilePicture(w http.ResponseWriter, r *http.Request) {
	serve(w, r, (*server).profilePicture)
}
