package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/store"
)

const (
	contextWindow  = 10
	maxTitleLength = 100

	fallbackContent = "I apologize, but I'm experiencing technical difficulties right now. " +
		"Please try again in a moment, or feel free to rephrase your question. " +
		"I'm here to help with your career counseling needs."

	defaultTitle = "Career Chat"

	careerCounselorInstruction = `You are an expert AI career counselor with years of experience helping people navigate their professional journeys. Your role is to:

1. Provide personalized career guidance and advice
2. Help users identify their strengths, interests, and career goals
3. Suggest career paths, skill development, and growth opportunities
4. Offer practical advice on job searching, interviews, and workplace challenges
5. Be supportive, encouraging, and professional in all interactions

Guidelines:
- Ask thoughtful questions to understand the user's situation better
- Provide specific, actionable advice
- Be empathetic and understanding
- Keep responses focused on career-related topics
- If asked about non-career topics, politely redirect to career counseling

Remember: You're here to help users achieve their professional goals and build fulfilling careers.`

	titlePromptFormat = `Generate a short, descriptive title (3-6 words) for a career counseling conversation based on this message: "%s". Focus on the main career topic or concern. Return only the title, no quotes or extra text.`
)

var (
	errEmptyResponse = errors.New("empty response")
	errShortResponse = errors.New("response too short")
	errBlocked       = errors.New("response contains disallowed content")

	blockedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(hate|violence|illegal|harmful)\b`),
		regexp.MustCompile(`(?i)\b(personal information|private data)\b`),
	}
)

// ChatTurn is one message of conversation context.
type ChatTurn struct {
	Role    store.Role
	Content string
}

type ReplyKind int

const (
	ReplyGenerated ReplyKind = iota
	ReplyFallback
)

func (k ReplyKind) String() string {
	if k == ReplyFallback {
		return "fallback"
	}
	return "generated"
}

// Reply is the outcome of a gateway call. Fallback replies carry the fixed
// apology text and the Cause that forced it.
type Reply struct {
	Kind     ReplyKind
	Content  string
	Metadata store.MessageMetadata
	Cause    error
}

// GenerateRequest is a provider-neutral completion request.
type GenerateRequest struct {
	SystemInstruction string
	Turns             []ChatTurn
	Temperature       float32
	TopP              float32
	MaxOutputTokens   int32
}

type GenerateResult struct {
	Text        string
	TotalTokens *int
}

// Generator performs one completion call against a language model.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	ModelName() string
}

// AIGateway turns conversation history into an assistant reply. It never
// returns an error: every failure becomes a fallback Reply.
type AIGateway struct {
	gen     Generator
	log     *zap.Logger
	timeout time.Duration
}

// NewAIGateway wraps gen. A zero timeout leaves deadlines to the caller's context.
func NewAIGateway(gen Generator, log *zap.Logger, timeout time.Duration) *AIGateway {
	return &AIGateway{gen: gen, log: log.Named("ai_gateway"), timeout: timeout}
}

func (g *AIGateway) GenerateResponse(ctx context.Context, history []ChatTurn) Reply {
	start := time.Now()
	if len(history) > contextWindow {
		history = history[len(history)-contextWindow:]
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	res, err := g.gen.Generate(ctx, GenerateRequest{
		SystemInstruction: careerCounselorInstruction,
		Turns:             history,
		Temperature:       0.7,
		TopP:              0.9,
		MaxOutputTokens:   1000,
	})
	elapsed := time.Since(start)
	gatewayLatency.Observe(elapsed.Seconds())

	if err == nil {
		err = validateResponse(res.Text)
	}
	if err != nil {
		gatewayReplies.WithLabelValues(ReplyFallback.String()).Inc()
		g.log.Warn("AI generation failed, using fallback reply",
			zap.Error(err),
			zap.Int("history_len", len(history)),
			zap.Duration("elapsed", elapsed))
		return Reply{
			Kind:    ReplyFallback,
			Content: fallbackContent,
			Metadata: store.MessageMetadata{
				Model:            g.gen.ModelName(),
				ProcessingTimeMs: elapsed.Milliseconds(),
			},
			Cause: err,
		}
	}

	gatewayReplies.WithLabelValues(ReplyGenerated.String()).Inc()
	return Reply{
		Kind:    ReplyGenerated,
		Content: res.Text,
		Metadata: store.MessageMetadata{
			Model:            g.gen.ModelName(),
			Tokens:           res.TotalTokens,
			ProcessingTimeMs: elapsed.Milliseconds(),
		},
	}
}

// GenerateSessionTitle derives a short topic from the first user message,
// falling back to its first three words.
func (g *AIGateway) GenerateSessionTitle(ctx context.Context, firstMessage string) string {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	res, err := g.gen.Generate(ctx, GenerateRequest{
		Turns:           []ChatTurn{{Role: store.RoleUser, Content: fmt.Sprintf(titlePromptFormat, firstMessage)}},
		Temperature:     0.3,
		MaxOutputTokens: 20,
	})
	if err == nil {
		if title := cleanTitle(res.Text); title != "" {
			return clipRunes(title, maxTitleLength)
		}
		err = errEmptyResponse
	}

	g.log.Warn("title generation failed, deriving from message", zap.Error(err))
	return clipRunes(fallbackTitle(firstMessage), maxTitleLength)
}

func (g *AIGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

func validateResponse(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errEmptyResponse
	}
	if utf8.RuneCountInString(trimmed) < 10 {
		return errShortResponse
	}
	for _, p := range blockedPatterns {
		if p.MatchString(content) {
			return errBlocked
		}
	}
	return nil
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.NewReplacer(`"`, "", `'`, "").Replace(title)
	return strings.TrimSpace(title)
}

func fallbackTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return defaultTitle
	}
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ") + "..."
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
