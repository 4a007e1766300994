package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/cache"
	"careerpilot.app/career-chat/internal/store"
)

// fakeGenerator answers chat and title prompts from configurable funcs and
// records every request it saw.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []GenerateRequest

	chatFn  func(req GenerateRequest) (*GenerateResult, error)
	titleFn func(req GenerateRequest) (*GenerateResult, error)
}

func (f *fakeGenerator) ModelName() string { return "fake-model" }

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	isTitle := req.SystemInstruction == "" && len(req.Turns) == 1 &&
		strings.HasPrefix(req.Turns[0].Content, "Generate a short, descriptive title")
	if isTitle {
		if f.titleFn != nil {
			return f.titleFn(req)
		}
		return &GenerateResult{Text: "Engineering To Product Management"}, nil
	}
	if f.chatFn != nil {
		return f.chatFn(req)
	}
	tokens := 42
	return &GenerateResult{Text: "This is a helpful career suggestion.", TotalTokens: &tokens}, nil
}

func (f *fakeGenerator) chatRequests() []GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []GenerateRequest
	for _, r := range f.requests {
		if r.SystemInstruction != "" {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeGenerator) titleRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.SystemInstruction == "" {
			n++
		}
	}
	return n
}

var errUpstream = errors.New("upstream unavailable")

type fixture struct {
	store    *store.SQLiteStore
	gen      *fakeGenerator
	gateway  *AIGateway
	chat     *ChatService
	sessions *SessionService
	users    *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := zap.NewNop()
	gen := &fakeGenerator{}
	gateway := NewAIGateway(gen, log, 0)
	locker := NewSessionLocker(cache.NewMemory(), 0)

	return &fixture{
		store:    s,
		gen:      gen,
		gateway:  gateway,
		chat:     NewChatService(s, gateway, locker, log),
		sessions: NewSessionService(s, log),
		users:    NewUserService(s, log),
	}
}

func (f *fixture) newUser(t *testing.T, email string) *store.User {
	t.Helper()
	hash := "unused"
	u := &store.User{Name: "Test", Email: email, PasswordHash: &hash}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

// failingStore wraps a Store and fails selected operations.
type failingStore struct {
	store.Store
	failRecent      bool
	failTopicUpdate bool
}

func (s *failingStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]store.Message, error) {
	if s.failRecent {
		return nil, errors.New("disk on fire")
	}
	return s.Store.RecentMessages(ctx, sessionID, n)
}

func (s *failingStore) UpdateSessionTopic(ctx context.Context, sessionID, userID, topic string) error {
	if s.failTopicUpdate {
		return errors.New("disk on fire")
	}
	return s.Store.UpdateSessionTopic(ctx, sessionID, userID, topic)
}

// unreachableCache behaves like a cache whose backend refuses connections.
type unreachableCache struct {
	cache.Store
}

func (unreachableCache) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}
