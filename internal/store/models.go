package store

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

const (
	AccountTypeOAuth       = "oauth"
	AccountTypeCredentials = "credentials"
)

const DefaultSessionTopic = "New Chat"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash *string   `json:"-"` // nil for OAuth-only users
	Image        *string   `json:"image"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Account links a user to a sign-in provider.
type Account struct {
	ID                string `json:"id"`
	UserID            string `json:"userId"`
	Type              string `json:"type"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
}

type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessageMetadata struct {
	Model            string `json:"model"`
	Tokens           *int   `json:"tokens,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

type Message struct {
	ID            string           `json:"id"`
	ChatSessionID string           `json:"chatSessionId"`
	Role          Role             `json:"role"`
	Content       string           `json:"content"`
	Metadata      *MessageMetadata `json:"metadata,omitempty"`
	Seq           int64            `json:"seq"`
	CreatedAt     time.Time        `json:"createdAt"`
}
