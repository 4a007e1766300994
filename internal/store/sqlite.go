package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        name TEXT NOT NULL,
        email TEXT UNIQUE NOT NULL,
        password_hash TEXT,
        image TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS accounts (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        type TEXT NOT NULL CHECK (type IN ('oauth', 'credentials')),
        provider TEXT NOT NULL,
        provider_account_id TEXT NOT NULL,
        UNIQUE (provider, provider_account_id),
        FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        topic TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions (user_id, created_at);

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_session_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        metadata TEXT, -- JSON
        seq INTEGER NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (chat_session_id, seq),
        FOREIGN KEY (chat_session_id) REFERENCES chat_sessions (id) ON DELETE CASCADE
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, email, password_hash, image, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Name, user.Email, user.PasswordHash, user.Image, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "SELECT id, name, email, password_hash, image, created_at FROM users WHERE id = ?", id)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "SELECT id, name, email, password_hash, image, created_at FROM users WHERE email = ?", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*User, error) {
	var user User
	var passwordHash, image sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Name, &user.Email, &passwordHash, &image, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if image.Valid {
		user.Image = &image.String
	}
	return &user, nil
}

func (s *SQLiteStore) UpdateUserName(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update user password: %w", err)
	}
	return expectAffected(res)
}

// Account methods
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	account.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, user_id, type, provider, provider_account_id) VALUES (?, ?, ?, ?, ?)",
		account.ID, account.UserID, account.Type, account.Provider, account.ProviderAccountID)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, type, provider, provider_account_id FROM accounts WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Provider, &a.ProviderAccountID); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Chat session methods
func (s *SQLiteStore) CreateSession(ctx context.Context, userID, topic string) (*ChatSession, error) {
	session := &ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (id, user_id, topic, created_at) VALUES (?, ?, ?, ?)",
		session.ID, session.UserID, session.Topic, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat session: %w", err)
	}
	return session, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID, userID string) (*ChatSession, error) {
	var session ChatSession
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, topic, created_at FROM chat_sessions WHERE id = ? AND user_id = ?", sessionID, userID).
		Scan(&session.ID, &session.UserID, &session.Topic, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return &session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, topic, created_at FROM chat_sessions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	defer rows.Close()

	sessions := []ChatSession{}
	for rows.Next() {
		var session ChatSession
		if err := rows.Scan(&session.ID, &session.UserID, &session.Topic, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSessionTopic(ctx context.Context, sessionID, userID, topic string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chat_sessions SET topic = ? WHERE id = ? AND user_id = ?", topic, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to update chat session topic: %w", err)
	}
	return expectAffected(res)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM chat_sessions WHERE id = ? AND user_id = ?", sessionID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to look up chat session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete chat session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session delete: %w", err)
	}
	return nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()

	// seq is derived in the same statement so concurrent writers cannot share a value.
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO messages (id, chat_session_id, role, content, metadata, seq, created_at)
        SELECT ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?
        FROM messages WHERE chat_session_id = ?
        RETURNING seq`,
		msg.ID, msg.ChatSessionID, string(msg.Role), msg.Content, metadata, msg.CreatedAt, msg.ChatSessionID,
	).Scan(&msg.Seq)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, chat_session_id, role, content, metadata, seq, created_at
        FROM messages
        WHERE chat_session_id = ?
        ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, chat_session_id, role, content, metadata, seq, created_at
        FROM (
            SELECT * FROM messages
            WHERE chat_session_id = ?
            ORDER BY seq DESC
            LIMIT ?
        )
        ORDER BY seq ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var msg Message
		var role string
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatSessionID, &role, &msg.Content, &metadata, &msg.Seq, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = Role(role)
		if metadata.Valid && metadata.String != "" {
			var md MessageMetadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for message %s: %w", msg.ID, err)
			}
			msg.Metadata = &md
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func encodeMetadata(md *MessageMetadata) (sql.NullString, error) {
	if md == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode message metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
