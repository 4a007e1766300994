package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/store"
)

// Exchange is the result of one send. AIMessage is nil when the exchange
// stopped after the user message was stored.
type Exchange struct {
	UserMessage store.Message  `json:"userMessage"`
	AIMessage   *store.Message `json:"aiMessage"`
}

type ChatService struct {
	store   store.Store
	gateway *AIGateway
	locker  *SessionLocker
	log     *zap.Logger
}

func NewChatService(s store.Store, gateway *AIGateway, locker *SessionLocker, log *zap.Logger) *ChatService {
	return &ChatService{
		store:   s,
		gateway: gateway,
		locker:  locker,
		log:     log.Named("chat_service"),
	}
}

// GetMessages returns every message of an owned session in send order.
func (s *ChatService) GetMessages(ctx context.Context, userID, sessionID string) ([]store.Message, error) {
	if err := s.checkOwnership(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for session: %w", err)
	}
	return messages, nil
}

// SendMessage stores the user's message, asks the gateway for a reply,
// stores the reply and titles the session after its first exchange.
// Once the user message is stored the call succeeds; later failures are
// logged and reported by a nil AIMessage.
func (s *ChatService) SendMessage(ctx context.Context, userID, sessionID, content string) (*Exchange, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{
			Message: "Invalid input",
			Fields:  []FieldError{{Field: "content", Message: "is required"}},
		}
	}
	if err := s.checkOwnership(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// The cache is down. seq still orders the session, so send unlocked.
		sendLocksSkipped.Inc()
		s.log.Warn("session lock unavailable, sending without it",
			zap.String("session_id", sessionID),
			zap.Error(err))
		unlock = func() {}
	}
	defer unlock()

	userMsg := store.Message{
		ChatSessionID: sessionID,
		Role:          store.RoleUser,
		Content:       content,
	}
	if err := s.store.CreateMessage(ctx, &userMsg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	exchange := &Exchange{UserMessage: userMsg}
	aiMsg, err := s.completeExchange(ctx, userID, sessionID, content)
	if err != nil {
		exchangesIncomplete.Inc()
		s.log.Error("exchange stopped after user message",
			zap.String("session_id", sessionID),
			zap.String("user_message_id", userMsg.ID),
			zap.Error(err))
		return exchange, nil
	}
	exchange.AIMessage = aiMsg
	return exchange, nil
}

func (s *ChatService) completeExchange(ctx context.Context, userID, sessionID, content string) (*store.Message, error) {
	// Writes after the model call must land even if the caller went away.
	writeCtx := context.WithoutCancel(ctx)

	history, err := s.store.RecentMessages(ctx, sessionID, contextWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	turns := make([]ChatTurn, 0, len(history))
	for _, m := range history {
		turns = append(turns, ChatTurn{Role: m.Role, Content: m.Content})
	}

	reply := s.gateway.GenerateResponse(ctx, turns)
	metadata := reply.Metadata
	aiMsg := &store.Message{
		ChatSessionID: sessionID,
		Role:          store.RoleAssistant,
		Content:       reply.Content,
		Metadata:      &metadata,
	}
	if err := s.store.CreateMessage(writeCtx, aiMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	// Only the new user message in history means this was the first exchange.
	if len(history) == 1 {
		title := s.gateway.GenerateSessionTitle(ctx, content)
		if err := s.store.UpdateSessionTopic(writeCtx, sessionID, userID, title); err != nil {
			return nil, fmt.Errorf("failed to update session topic: %w", err)
		}
		titlesGenerated.Inc()
		s.log.Info("session titled", zap.String("session_id", sessionID), zap.String("topic", title))
	}
	return aiMsg, nil
}

func (s *ChatService) checkOwnership(ctx context.Context, userID, sessionID string) error {
	if _, err := s.store.GetSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to verify session: %w", err)
	}
	return nil
}
