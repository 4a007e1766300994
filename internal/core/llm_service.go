package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"careerpilot.app/career-chat/internal/store"
)

const DefaultModelName = "gemini-2.0-flash-exp"

type GeminiConfig struct {
	APIKey  string
	BaseURL string // e.g. https://generativelanguage.googleapis.com/v1beta
	Model   string
}

// GeminiClient implements Generator over the Gemini generateContent API.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		endpoint, err := endpointFromBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClient{client: client, model: model, log: log.Named("gemini")}, nil
}

// endpointFromBaseURL strips the API version path, which the SDK appends itself.
func endpointFromBaseURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid gemini base url %q", baseURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (c *GeminiClient) ModelName() string { return c.model }

func (c *GeminiClient) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			c.log.Warn("error closing GenAI client", zap.Error(err))
		} else {
			c.log.Info("GenAI client closed")
		}
	}
}

func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if len(req.Turns) == 0 {
		return nil, errors.New("prompt history is empty")
	}
	last := req.Turns[len(req.Turns)-1]
	if last.Role != store.RoleUser {
		return nil, fmt.Errorf("last message in history is from %q, not user", last.Role)
	}

	model := c.client.GenerativeModel(c.model)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemInstruction)},
		}
	}
	model.SetTemperature(req.Temperature)
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}

	session := model.StartChat()
	session.History = toGeminiContents(req.Turns[:len(req.Turns)-1])

	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, fmt.Errorf("gemini SendMessage failed: %w", err)
	}

	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	out := &GenerateResult{Text: text}
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		total := int(resp.UsageMetadata.TotalTokenCount)
		out.TotalTokens = &total
	}
	return out, nil
}

// toGeminiContents maps stored roles onto the provider's vocabulary.
func toGeminiContents(turns []ChatTurn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return contents
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini response had no candidates or parts")
	}
	txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("gemini response part was not text: %T", resp.Candidates[0].Content.Parts[0])
	}
	return string(txt), nil
}
