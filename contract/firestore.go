package contract

import "time"

const (
	UsersCollection    = "users"
	MessagesCollection = "messages"
)

// Field names of users/{email} and messages/{autoId} documents.
const (
	FieldUsername          = "username"
	FieldFriends           = "friends"
	FieldFriendRequests    = "friendRequests"
	FieldProfilePictureURL = "profilePictureURL"
	FieldSender            = "sender"
	FieldReceiver          = "receiver"
	FieldTimestamp         = "timestamp"
)

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusRejected RequestStatus = "rejected"
)

// FriendRequest is an entry of users/{email}.friendRequests.
// Entries are matched by value, so the field set must stay {from, status}.
type FriendRequest struct {
	From   string        `firestore:"from" json:"from" bson:"from"`
	Status RequestStatus `firestore:"status" json:"status" bson:"status"`
}

type User struct {
	Email              string          `firestore:"email" json:"email" bson:"email"`
	Name               string          `firestore:"name" json:"name" bson:"name"`
	Surname            string          `firestore:"surname" json:"surname" bson:"surname"`
	Username           string          `firestore:"username" json:"username" bson:"username"`
	Birthdate          int64           `firestore:"birthdate" json:"birthdate" bson:"birthdate"`
	Gender             string          `firestore:"gender" json:"gender" bson:"gender"`
	PhoneNumber        string          `firestore:"phoneNumber" json:"phoneNumber" bson:"phoneNumber"`
	Points             int             `firestore:"points" json:"points" bson:"points"`
	CollectedLocations []string        `firestore:"collectedLocations" json:"collectedLocations" bson:"collectedLocations"`
	Friends            []string        `firestore:"friends" json:"friends" bson:"friends"`
	FriendRequests     []FriendRequest `firestore:"friendRequests" json:"friendRequests" bson:"friendRequests"`
	Badges             []string        `firestore:"badges" json:"badges" bson:"badges"`
	ProfilePictureURL  string          `firestore:"profilePictureURL" json:"profilePictureURL" bson:"profilePictureURL"`
	IsOnline           bool            `firestore:"isOnline" json:"isOnline" bson:"isOnline"`
	IsTyping           bool            `firestore:"isTyping" json:"isTyping" bson:"isTyping"`
}

// Message is immutable once written, except for Read.
type Message struct {
	ID        string     `firestore:"-" json:"-" bson:"-"`
	Sender    string     `firestore:"sender" json:"sender" bson:"sender"`
	Receiver  string     `firestore:"receiver" json:"receiver" bson:"receiver"`
	Body      string     `firestore:"message" json:"message" bson:"message"`
	Timestamp *time.Time `firestore:"timestamp" json:"timestamp" bson:"timestamp"`
	Read      bool       `firestore:"read" json:"read" bson:"read"`
}
