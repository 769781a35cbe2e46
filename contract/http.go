package contract

import "time"

type MessageView struct {
	ID        string     `json:"id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	Message   string     `json:"message"`
	HTML      string     `json:"html"`
	Timestamp *time.Time `json:"timestamp"`
	Mine      bool       `json:"mine"`
}

type TranscriptEvent struct {
	Peer     string        `json:"peer"`
	Messages []MessageView `json:"messages"`
}

type ConversationView struct {
	Peer            string     `json:"peer"`
	LastMessage     string     `json:"last_message"`
	Preview         string     `json:"preview"`
	LastMessageTime *time.Time `json:"last_message_time"`
}

type ConversationsEvent struct {
	Conversations []ConversationView `json:"conversations"`
}

type PostMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type FriendRequestAction struct {
	Action string `json:"action"`
	User   string `json:"user"`
}

type PendingRequestView struct {
	From        string `json:"from"`
	DisplayName string `json:"display_name"`
}

type PendingRequestsResponse struct {
	Requests []PendingRequestView `json:"requests"`
}

// FriendStatusResponse carries the caller's pending list after an accept or reject,
// including on failure.
type FriendStatusResponse struct {
	User    string               `json:"user"`
	Status  string               `json:"status"`
	Pending []PendingRequestView `json:"pending,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Username string `json:"username"`
	Age      int    `json:"age"`
	Gender   string `json:"gender"`
}

type UserMatch struct {
	Key      string `json:"key"`
	Username string `json:"username"`
}

type SearchResponse struct {
	Users []UserMatch `json:"users"`
}

type ProfilePictureResponse struct {
	URL string `json:"url"`
}

type PostMessageResponse struct {
	ID string `json:"id"`
}

// ErrorEvent reports a failed action on a stream without closing it.
type ErrorEvent struct {
	Error string `json:"error"`
}
