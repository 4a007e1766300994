package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/cache"
	"careerpilot.app/career-chat/internal/core"
	"careerpilot.app/career-chat/internal/store"
)

type stubGenerator struct{}

func (stubGenerator) ModelName() string { return "stub-model" }

func (stubGenerator) Generate(_ context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	if req.SystemInstruction == "" {
		return &core.GenerateResult{Text: "Engineering To Product Management"}, nil
	}
	return &core.GenerateResult{Text: "This is a helpful career suggestion."}, nil
}

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
}

func newTestServer(t *testing.T, limits RateLimitConfig) *testServer {
	t.Helper()
	log := zap.NewNop()

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.NewMemory()
	t.Cleanup(func() { c.Close() })

	gateway := core.NewAIGateway(stubGenerator{}, log, 0)
	h := NewAPIHandler(HandlerDeps{
		Chat:     core.NewChatService(db, gateway, core.NewSessionLocker(c, 0), log),
		Sessions: core.NewSessionService(db, log),
		Users:    core.NewUserService(db, log),
		Tokens:   auth.NewTokenIssuer("test-secret", time.Hour, c),
		Limiter:  NewRateLimiter(c, limits, log),
		Log:      log,
	})

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>app</html>"), 0o644))

	return &testServer{
		handler: NewRouter(h, RouterConfig{StaticDir: static, AllowedOrigins: []string{"*"}}, log),
		store:   db,
	}
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) call(t *testing.T, procedure, token string, input any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/trpc/"+procedure, token, input)
}

func (s *testServer) query(t *testing.T, procedure, token string, input any) *httptest.ResponseRecorder {
	t.Helper()
	target := "/api/trpc/" + procedure
	if input != nil {
		raw, err := json.Marshal(input)
		require.NoError(t, err)
		target += "?input=" + url.QueryEscape(string(raw))
	}
	return s.do(t, http.MethodGet, target, token, nil)
}

// signUpAndIn registers a user and returns a bearer token for them.
func (s *testServer) signUpAndIn(t *testing.T, email string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Test User", "email": email, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp signinResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

type envelope struct {
	Result *struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
	Error *RPCError `json:"error"`
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Result)
	var out T
	require.NoError(t, json.Unmarshal(env.Result.Data, &out))
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *RPCError {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error
}

func TestGateRedirectsPagesWithoutCookie(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})

	rec := s.do(t, http.MethodGet, "/chat/123", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/signin?callbackUrl=%2Fchat%2F123", rec.Header().Get("Location"))

	rec = s.do(t, http.MethodGet, "/profile?tab=security", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/signin?callbackUrl=%2Fprofile%3Ftab%3Dsecurity", rec.Header().Get("Location"))

	rec = s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/auth/signin", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")

	req := httptest.NewRequest(http.MethodGet, "/chat/123", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "anything"})
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "app")
}

func TestSignupResponses(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})

	rec := s.do(t, http.MethodPost, "/signup", "", map[string]string{
		"name": "Ada", "email": "ada@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created signupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "User created successfully", created.Message)
	assert.Equal(t, "ada@example.com", created.User.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Impostor", "email": "ada@example.com", "password": "password456",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"User with this email already exists"}`, rec.Body.String())

	stored, err := s.store.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Name)

	rec = s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "", "email": "nope", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var invalid authError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invalid))
	assert.Equal(t, "Invalid input", invalid.Error)
	assert.Len(t, invalid.Details, 3)
}

func TestSigninSetsCookieAndRejectsBadPassword(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	s.signUpAndIn(t, "cookie@example.com")

	rec := s.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "cookie@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			found = c
		}
	}
	require.NotNil(t, found)
	assert.True(t, found.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, found.SameSite)

	rec = s.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "cookie@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid email or password"}`, rec.Body.String())
}

func TestProceduresRequireAuthentication(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})

	rec := s.query(t, "session.getAllSessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)

	rec = s.query(t, "session.getAllSessions", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieAuthenticatesProcedures(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	token := s.signUpAndIn(t, "viacookie@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/trpc/user.getProfile", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	profile := decodeData[core.Profile](t, rec)
	assert.Equal(t, "viacookie@example.com", profile.Email)
}

func TestProcedureRoutingErrors(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	token := s.signUpAndIn(t, "routing@example.com")

	rec := s.call(t, "session.nope", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = s.query(t, "session.createSession", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.call(t, "session.getAllSessions", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/trpc/chat.getMessages?input=%7Bbroken", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, rec).Code)
}

func TestChatScenario(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	token := s.signUpAndIn(t, "scenario@example.com")

	sess := decodeData[store.ChatSession](t, s.call(t, "session.createSession", token, nil))
	assert.Equal(t, store.DefaultSessionTopic, sess.Topic)

	ex := decodeData[core.Exchange](t, s.call(t, "chat.sendMessage", token, map[string]string{
		"chatSessionId": sess.ID,
		"content":       "I want to switch from engineering to product management",
	}))
	assert.Equal(t, store.RoleUser, ex.UserMessage.Role)
	require.NotNil(t, ex.AIMessage)
	assert.Equal(t, store.RoleAssistant, ex.AIMessage.Role)
	assert.Equal(t, "This is a helpful career suggestion.", ex.AIMessage.Content)
	require.NotNil(t, ex.AIMessage.Metadata)
	assert.Equal(t, "stub-model", ex.AIMessage.Metadata.Model)

	msgs := decodeData[[]store.Message](t, s.query(t, "chat.getMessages", token, map[string]string{"chatSessionId": sess.ID}))
	require.Len(t, msgs, 2)
	assert.Equal(t, ex.UserMessage.ID, msgs[0].ID)

	sessions := decodeData[[]store.ChatSession](t, s.query(t, "session.getAllSessions", token, nil))
	require.Len(t, sessions, 1)
	assert.Equal(t, "Engineering To Product Management", sessions[0].Topic)

	renamed := decodeData[store.ChatSession](t, s.call(t, "session.updateSessionName", token, map[string]string{
		"sessionId": sess.ID, "topic": "PM transition",
	}))
	assert.Equal(t, "PM transition", renamed.Topic)

	rec := s.call(t, "session.updateSessionName", token, map[string]string{"sessionId": sess.ID, "topic": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotNil(t, decodeError(t, rec).Details)

	deleted := decodeData[core.DeleteSessionResult](t, s.call(t, "session.deleteSession", token, map[string]string{"sessionId": sess.ID}))
	assert.True(t, deleted.Success)
	assert.Equal(t, sess.ID, deleted.DeletedSessionID)

	rec = s.query(t, "chat.getMessages", token, map[string]string{"chatSessionId": sess.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOtherUsersSessionIsNotFound(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	owner := s.signUpAndIn(t, "owner@example.com")
	intruder := s.signUpAndIn(t, "intruder@example.com")

	sess := decodeData[store.ChatSession](t, s.call(t, "session.createSession", owner, nil))

	rec := s.call(t, "session.deleteSession", intruder, map[string]string{"sessionId": sess.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Chat session not found or you don't have permission to delete it", decodeError(t, rec).Message)

	rec = s.call(t, "chat.sendMessage", intruder, map[string]string{"chatSessionId": sess.ID, "content": "hello there"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sessions := decodeData[[]store.ChatSession](t, s.query(t, "session.getAllSessions", intruder, nil))
	assert.Empty(t, sessions)
}

func TestUserProcedures(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	token := s.signUpAndIn(t, "user@example.com")

	updated := decodeData[core.PublicUser](t, s.call(t, "user.updateName", token, map[string]string{"name": "Renamed"}))
	assert.Equal(t, "Renamed", updated.Name)

	rec := s.call(t, "user.updatePassword", token, map[string]string{
		"currentPassword": "not-it", "newPassword": "another-password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Current password is incorrect", decodeError(t, rec).Message)

	msg := decodeData[core.StatusMessage](t, s.call(t, "user.updatePassword", token, map[string]string{
		"currentPassword": "password123", "newPassword": "another-password",
	}))
	assert.Equal(t, "Password updated successfully", msg.Message)
}

func TestSendMessageRateLimited(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{RequestsPerMinute: 1})
	token := s.signUpAndIn(t, "limited@example.com")
	sess := decodeData[store.ChatSession](t, s.call(t, "session.createSession", token, nil))

	input := map[string]string{"chatSessionId": sess.ID, "content": "first question"}
	rec := s.call(t, "chat.sendMessage", token, input)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = s.call(t, "chat.sendMessage", token, input)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "TOO_MANY_REQUESTS", decodeError(t, rec).Code)
}

func TestSignoutRevokesToken(t *testing.T) {
	s := newTestServer(t, RateLimitConfig{})
	token := s.signUpAndIn(t, "bye@example.com")

	rec := s.do(t, http.MethodPost, "/api/auth/signout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)

	rec = s.query(t, "user.getProfile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestOpsRouter(t *testing.T) {
	healthy := NewOpsRouter(map[string]Pinger{
		"store": pingFunc(func(context.Context) error { return nil }),
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"store":"ok"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	degraded := NewOpsRouter(map[string]Pinger{
		"cache": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, zap.NewNop())
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestToRPCError(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", toRPCError(core.ErrSessionNotFound).Code)
	assert.Equal(t, "Chat session not found", toRPCError(core.ErrSessionNotFound).Message)
	assert.Equal(t, "UNAUTHORIZED", toRPCError(auth.ErrTokenRevoked).Code)
	assert.Equal(t, "BAD_REQUEST", toRPCError(&core.RequestError{Message: "nope"}).Code)
	assert.Same(t, ErrInternal, toRPCError(errors.New("disk on fire")))
}
