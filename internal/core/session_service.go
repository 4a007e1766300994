package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/store"
)

// sessionAccessError is a not-found error carrying an operation-specific message.
type sessionAccessError struct{ msg string }

func (e *sessionAccessError) Error() string        { return e.msg }
func (e *sessionAccessError) Is(target error) bool { return target == ErrSessionNotFound }

var (
	errSessionUpdateDenied = &sessionAccessError{"Chat session not found or you don't have permission to update it"}
	errSessionDeleteDenied = &sessionAccessError{"Chat session not found or you don't have permission to delete it"}
)

type UpdateSessionNameInput struct {
	SessionID string `json:"sessionId" validate:"required"`
	Topic     string `json:"topic" validate:"required,min=1,max=100"`
}

type DeleteSessionResult struct {
	Success          bool   `json:"success"`
	DeletedSessionID string `json:"deletedSessionId"`
}

type SessionService struct {
	store store.Store
	log   *zap.Logger
}

func NewSessionService(s store.Store, log *zap.Logger) *SessionService {
	return &SessionService{store: s, log: log.Named("session_service")}
}

func (s *SessionService) CreateSession(ctx context.Context, userID string) (*store.ChatSession, error) {
	session, err := s.store.CreateSession(ctx, userID, store.DefaultSessionTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	s.log.Debug("chat session created", zap.String("session_id", session.ID), zap.String("user_id", userID))
	return session, nil
}

// ListSessions returns the caller's sessions, newest first.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]store.ChatSession, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) UpdateSessionName(ctx context.Context, userID string, in UpdateSessionNameInput) (*store.ChatSession, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSessionTopic(ctx, in.SessionID, userID, in.Topic); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errSessionUpdateDenied
		}
		return nil, fmt.Errorf("failed to rename chat session: %w", err)
	}
	session, err := s.store.GetSession(ctx, in.SessionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errSessionUpdateDenied
		}
		return nil, fmt.Errorf("failed to reload chat session: %w", err)
	}
	return session, nil
}

// DeleteSession removes an owned session together with its messages.
func (s *SessionService) DeleteSession(ctx context.Context, userID, sessionID string) (*DeleteSessionResult, error) {
	if err := s.store.DeleteSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errSessionDeleteDenied
		}
		return nil, fmt.Errorf("failed to delete chat session: %w", err)
	}
	s.log.Info("chat session deleted", zap.String("session_id", sessionID), zap.String("user_id", userID))
	return &DeleteSessionResult{Success: true, DeletedSessionID: sessionID}, nil
}
