package chat

import "time"

// Kind distinguishes one-to-one chats from group chats.
type Kind string

const (
	Personal Kind = "personal"
	Group    Kind = "group"
)

// User is the application-side identity record.
type User struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
	IsOnline  bool   `json:"isOnline"`
}

// UserPatch carries the fields of a profile update. Nil fields are left untouched.
type UserPatch struct {
	Name      *string
	Email     *string
	AvatarURL *string
	IsOnline  *bool
}

// Apply merges the patch into a copy of u and returns it.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.IsOnline != nil {
		u.IsOnline = *p.IsOnline
	}
	return u
}

// Message is a chat message as the backend and the realtime channel carry it.
type Message struct {
	ID             string    `json:"_id,omitempty"`
	ConversationID string    `json:"chatId,omitempty"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	Attachments    []string  `json:"attachments,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	// ClientID echoes the local id of an optimistic send when the backend supports it.
	ClientID string `json:"clientId,omitempty"`
}

// Before reports whether m sorts before o under the (CreatedAt, ID) ordering.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Conversation is a chat together with its message history.
type Conversation struct {
	ID           string    `json:"_id"`
	Kind         Kind      `json:"type"`
	Participants []User    `json:"participants,omitempty"`
	DisplayName  string    `json:"name"`
	Image        string    `json:"image,omitempty"`
	Messages     []Message `json:"messages"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuthResult is the application session returned by login and registration.
type AuthResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
