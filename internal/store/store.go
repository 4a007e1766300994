package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store is the persistence contract shared by the SQLite and Postgres backends.
// Session-scoped reads and writes take the owning user ID and report
// ErrNotFound when the session does not exist or belongs to someone else.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserName(ctx context.Context, id, name string) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error

	CreateAccount(ctx context.Context, account *Account) error
	ListAccounts(ctx context.Context, userID string) ([]Account, error)

	CreateSession(ctx context.Context, userID, topic string) (*ChatSession, error)
	GetSession(ctx context.Context, sessionID, userID string) (*ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]ChatSession, error)
	UpdateSessionTopic(ctx context.Context, sessionID, userID, topic string) error
	DeleteSession(ctx context.Context, sessionID, userID string) error

	// CreateMessage fills in ID, Seq and CreatedAt.
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	// RecentMessages returns the last n messages in chronological order.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error)

	Ping(ctx context.Context) error
	Close() error
}
