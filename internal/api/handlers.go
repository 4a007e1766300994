package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/auth"
	"careerpilot.app/career-chat/internal/core"
)

type APIHandler struct {
	chat     *core.ChatService
	sessions *core.SessionService
	users    *core.UserService
	tokens   *auth.TokenIssuer
	limiter  *RateLimiter
	log      *zap.Logger

	secureCookies bool
	procedures    map[string]procedure
}

type HandlerDeps struct {
	Chat     *core.ChatService
	Sessions *core.SessionService
	Users    *core.UserService
	Tokens   *auth.TokenIssuer
	Limiter  *RateLimiter
	Log      *zap.Logger

	// SecureCookies marks the session cookie Secure; set in production.
	SecureCookies bool
}

func NewAPIHandler(deps HandlerDeps) *APIHandler {
	h := &APIHandler{
		chat:          deps.Chat,
		sessions:      deps.Sessions,
		users:         deps.Users,
		tokens:        deps.Tokens,
		limiter:       deps.Limiter,
		log:           deps.Log.Named("api"),
		secureCookies: deps.SecureCookies,
	}
	h.procedures = h.registerProcedures()
	return h
}

func (h *APIHandler) registerProcedures() map[string]procedure {
	return map[string]procedure{
		"chat.getMessages":          query(h.getMessages),
		"chat.sendMessage":          mutation(h.sendMessage),
		"session.getAllSessions":    query(h.getAllSessions),
		"session.createSession":     mutation(h.createSession),
		"session.updateSessionName": mutation(h.updateSessionName),
		"session.deleteSession":     mutation(h.deleteSession),
		"user.getProfile":           query(h.getProfile),
		"user.updateName":           mutation(h.updateName),
		"user.updatePassword":       mutation(h.updatePassword),
	}
}

type chatSessionInput struct {
	ChatSessionID string `json:"chatSessionId"`
}

type sendMessageInput struct {
	ChatSessionID string `json:"chatSessionId"`
	Content       string `json:"content"`
}

type sessionIDInput struct {
	SessionID string `json:"sessionId"`
}

func (h *APIHandler) getMessages(w http.ResponseWriter, r *http.Request, raw []byte) (any, error) {
	in, err := bind[chatSessionInput](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("chatSessionId", in.ChatSessionID); err != nil {
		return nil, err
	}
	return h.chat.GetMessages(r.Context(), UserIDFromContext(r.Context()), in.ChatSessionID)
}

func (h *APIHandler) sendMessage(w http.ResponseWriter, r *http.Request, raw []byte) (any, error) {
	userID := UserIDFromContext(r.Context())
	if !h.limiter.allow(w, r, "send_message", "user:"+userID) {
		return nil, ErrRateLimited
	}

	in, err := bind[sendMessageInput](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("chatSessionId", in.ChatSessionID); err != nil {
		return nil, err
	}
	return h.chat.SendMessage(r.Context(), userID, in.ChatSessionID, in.Content)
}

func (h *APIHandler) getAllSessions(w http.ResponseWriter, r *http.Request, _ []byte) (any, error) {
	return h.sessions.ListSessions(r.Context(), UserIDFromContext(r.Context()))
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request, _ []byte) (any, error) {
	return h.sessions.CreateSession(r.Context(), UserIDFromContext(r.Context()))
}

func (h *APIHandler) updateSessionName(w http.ResponseWriter, r *http.Request, raw []byte) (any, error) {
	in, err := bind[core.UpdateSessionNameInput](raw)
	if err != nil {
		return nil, err
	}
	return h.sessions.UpdateSessionName(r.Context(), UserIDFromContext(r.Context()), in)
}

func (h *APIHandler) deleteSession(w http.ResponseWriter, r *http.Request, raw []byte) (any, error) {
	in, err := bind[sessionIDInput](raw)
	if err != nil {
		return nil, err
	}
	if err := requireField("sessionId", in.SessionID); err != nil {
		return nil, err
	}
	return h.sessions.DeleteSession(r.Context(), UserIDFromContext(r.Context()), in.SessionID)
}

func (h *APIHandler) getProfile(w http.ResponseWriter, r *http.Request, _ []byte) (any, error) {
	return h.users.GetProfile(r.Context(), UserIDFromContext(r.Context()))
}

func (h *APIHandler) updateName(w http.ResponseWriter, r *http.Request, raw []byte) (any, error) {
	in, err := bind[core.UpdateNameInput](raw)
	if err != nil {
		return nil, err
	}
	return h.users.UpdateName(r.Context(), UserIDFromContext(r.Context()), in)
}

func (h *APIHandler) updatePassword(w http.ResponseWriter, r *http.Request, raw []byte) (any, error) {
	in, err := bind[core.UpdatePasswordInput](raw)
	if err != nil {
		return nil, err
	}
	return h.users.UpdatePassword(r.Context(), UserIDFromContext(r.Context()), in)
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return &core.ValidationError{
		Message: "Invalid input",
		Fields:  []core.FieldError{{Field: name, Message: "is required"}},
	}
}
