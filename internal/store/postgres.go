package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Row types for the Postgres schema. Kept separate from the API models so
// GORM tags do not leak into JSON payloads.
type userRow struct {
	ID           string  `gorm:"type:uuid;primaryKey"`
	Name         string  `gorm:"not null"`
	Email        string  `gorm:"not null;uniqueIndex"`
	PasswordHash *string `gorm:"column:password_hash"`
	Image        *string
	CreatedAt    time.Time `gorm:"not null;default:now()"`
}

func (userRow) TableName() string { return "users" }

type accountRow struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	UserID            string `gorm:"type:uuid;not null;index"`
	Type              string `gorm:"not null"`
	Provider          string `gorm:"not null;uniqueIndex:idx_account_provider,priority:1"`
	ProviderAccountID string `gorm:"not null;uniqueIndex:idx_account_provider,priority:2"`
	User              userRow `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (accountRow) TableName() string { return "accounts" }

type chatSessionRow struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"type:uuid;not null;index:idx_chat_session_user_created,priority:1"`
	Topic     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:now();index:idx_chat_session_user_created,priority:2"`
	User      userRow   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (chatSessionRow) TableName() string { return "chat_sessions" }

type messageRow struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	ChatSessionID string         `gorm:"type:uuid;not null;uniqueIndex:idx_message_session_seq,priority:1"`
	Seq           int64          `gorm:"not null;uniqueIndex:idx_message_session_seq,priority:2"`
	Role          string         `gorm:"not null"`
	Content       string         `gorm:"type:text;not null"`
	Metadata      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null;default:now()"`
	ChatSession   chatSessionRow `gorm:"foreignKey:ChatSessionID;constraint:OnDelete:CASCADE"`
}

func (messageRow) TableName() string { return "messages" }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&userRow{}, &accountRow{}, &chatSessionRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		},
	)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// User methods
func (s *GormStore) CreateUser(ctx context.Context, user *User) error {
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	row := userRow{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Image:        user.Image,
		CreatedAt:    user.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *GormStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *GormStore) getUser(ctx context.Context, cond string, arg string) (*User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&row).Error; err != nil {
		return nil, translateNotFound(err, "failed to query user")
	}
	return &User{
		ID:           row.ID,
		Name:         row.Name,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		Image:        row.Image,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func (s *GormStore) UpdateUserName(ctx context.Context, id, name string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("name", name)
	return affected(res, "failed to update user name")
}

func (s *GormStore) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("password_hash", passwordHash)
	return affected(res, "failed to update user password")
}

// Account methods
func (s *GormStore) CreateAccount(ctx context.Context, account *Account) error {
	account.ID = uuid.NewString()
	row := accountRow{
		ID:                account.ID,
		UserID:            account.UserID,
		Type:              account.Type,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *GormStore) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	var rows []accountRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	accounts := make([]Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, Account{
			ID:                r.ID,
			UserID:            r.UserID,
			Type:              r.Type,
			Provider:          r.Provider,
			ProviderAccountID: r.ProviderAccountID,
		})
	}
	return accounts, nil
}

// Chat session methods
func (s *GormStore) CreateSession(ctx context.Context, userID, topic string) (*ChatSession, error) {
	row := chatSessionRow{
		ID:        uuid.NewString(),
		UserID:    userID,
		Topic:     topic,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to insert chat session: %w", err)
	}
	return sessionFromRow(row), nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID, userID string) (*ChatSession, error) {
	var row chatSessionRow
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).First(&row).Error
	if err != nil {
		return nil, translateNotFound(err, "failed to get chat session")
	}
	return sessionFromRow(row), nil
}

// listSessionsQuery orders newest first; id breaks ties between sessions
// created in the same instant.
func listSessionsQuery(db *gorm.DB, userID string) *gorm.DB {
	return db.Where("user_id = ?", userID).Order("created_at DESC, id DESC")
}

func (s *GormStore) ListSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	var rows []chatSessionRow
	err := listSessionsQuery(s.db.WithContext(ctx), userID).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query chat sessions: %w", err)
	}
	sessions := make([]ChatSession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, *sessionFromRow(r))
	}
	return sessions, nil
}

func (s *GormStore) UpdateSessionTopic(ctx context.Context, sessionID, userID, topic string) error {
	res := s.db.WithContext(ctx).Model(&chatSessionRow{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Update("topic", topic)
	return affected(res, "failed to update chat session topic")
}

func (s *GormStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row chatSessionRow
		if err := tx.Where("id = ? AND user_id = ?", sessionID, userID).First(&row).Error; err != nil {
			return translateNotFound(err, "failed to look up chat session")
		}
		if err := tx.Where("chat_session_id = ?", sessionID).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Delete(&chatSessionRow{}, "id = ?", sessionID).Error; err != nil {
			return fmt.Errorf("failed to delete chat session: %w", err)
		}
		return nil
	})
}

// Message methods
func (s *GormStore) CreateMessage(ctx context.Context, msg *Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	var metadata datatypes.JSON
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode message metadata: %w", err)
		}
		metadata = datatypes.JSON(b)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock on the session serializes seq assignment per session.
		var session chatSessionRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", msg.ChatSessionID).
			First(&session).Error
		if err != nil {
			return translateNotFound(err, "failed to lock chat session")
		}

		var maxSeq int64
		if err := tx.Model(&messageRow{}).
			Where("chat_session_id = ?", msg.ChatSessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read message sequence: %w", err)
		}

		row := messageRow{
			ID:            uuid.NewString(),
			ChatSessionID: msg.ChatSessionID,
			Seq:           maxSeq + 1,
			Role:          string(msg.Role),
			Content:       msg.Content,
			Metadata:      metadata,
			CreatedAt:     time.Now(),
		}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		msg.ID = row.ID
		msg.Seq = row.Seq
		msg.CreatedAt = row.CreatedAt
		return nil
	})
}

func (s *GormStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("chat_session_id = ?", sessionID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return messagesFromRows(rows)
}

func (s *GormStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("chat_session_id = ?", sessionID).
		Order("seq DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return messagesFromRows(rows)
}

func sessionFromRow(r chatSessionRow) *ChatSession {
	return &ChatSession{ID: r.ID, UserID: r.UserID, Topic: r.Topic, CreatedAt: r.CreatedAt}
}

func messagesFromRows(rows []messageRow) ([]Message, error) {
	messages := make([]Message, 0, len(rows))
	for _, r := range rows {
		msg := Message{
			ID:            r.ID,
			ChatSessionID: r.ChatSessionID,
			Role:          Role(r.Role),
			Content:       r.Content,
			Seq:           r.Seq,
			CreatedAt:     r.CreatedAt,
		}
		if len(r.Metadata) > 0 {
			var md MessageMetadata
			if err := json.Unmarshal(r.Metadata, &md); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for message %s: %w", r.ID, err)
			}
			msg.Metadata = &md
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func translateNotFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func affected(res *gorm.DB, msg string) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", msg, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
