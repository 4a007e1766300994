package store

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := NewGormStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGormStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestGormStore(t)

	email := uuid.NewString() + "@example.com"
	u := createUser(t, s, email)

	err := s.CreateUser(ctx, &User{Name: "dup", Email: email})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	sess, err := s.CreateSession(ctx, u.ID, DefaultSessionTopic)
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.CreateMessage(ctx, &Message{ChatSessionID: sess.ID, Role: RoleUser, Content: content}))
	}

	recent, err := s.RecentMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, int64(3), recent[1].Seq)

	other := createUser(t, s, uuid.NewString()+"@example.com")
	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID, other.ID), ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, sess.ID, u.ID))
	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListSessionsQueryBreaksTimestampTies(t *testing.T) {
	db, err := gorm.Open(postgres.Open("host=localhost dbname=unused"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []chatSessionRow
		return listSessionsQuery(tx, "user-1").Find(&rows)
	})
	assert.Contains(t, sql, "ORDER BY created_at DESC, id DESC")
}

func TestGormStoreListSessionsSameTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestGormStore(t)
	u := createUser(t, s, uuid.NewString()+"@example.com")

	at := time.Now().UTC().Truncate(time.Microsecond)
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		require.NoError(t, s.db.WithContext(ctx).Omit("User").Create(&chatSessionRow{
			ID: id, UserID: u.ID, Topic: DefaultSessionTopic, CreatedAt: at,
		}).Error)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	for i := 0; i < 3; i++ {
		sessions, err := s.ListSessions(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 3)
		for j, sess := range sessions {
			assert.Equal(t, ids[j], sess.ID)
		}
	}
}
