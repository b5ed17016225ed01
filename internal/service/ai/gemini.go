package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/zhouzirui/tofu-tavern/backend/internal/config"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

const providerGemini = "gemini"

// GeminiFactory 基于 google.golang.org/genai 创建对话句柄，所有句柄共享同一个客户端。
type GeminiFactory struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// GeminiOption 调整 GeminiFactory 的构建参数。
type GeminiOption func(*genai.ClientConfig)

// WithGeminiBaseURL 覆盖 API 地址，主要用于测试。
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = baseURL
	}
}

// NewGeminiFactory 创建 Gemini 客户端。
func NewGeminiFactory(ctx context.Context, cfg config.GeminiConfig, timeout time.Duration, logger *zap.Logger, opts ...GeminiOption) (*GeminiFactory, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigError{Field: "apiKey", Reason: "GEMINI_API_KEY is empty"}
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(clientCfg)
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiFactory{client: client, model: cfg.Model, logger: logger}, nil
}

// NewHandle 创建绑定人设与温度的 genai 对话。
func (f *GeminiFactory) NewHandle(ctx context.Context, cfg HandleConfig, history []chat.Message) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	temperature := float32(cfg.Temperature)
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(cfg.SystemPersona, genai.RoleUser),
		Temperature:       &temperature,
	}

	seeded := toGeminiHistory(history)
	session, err := f.client.Chats.Create(ctx, f.model, genCfg, seeded)
	if err != nil {
		return nil, &ConfigError{Field: "history", Reason: "creating chat", Err: err}
	}

	f.logger.Debug("gemini handle created",
		zap.String("model", f.model),
		zap.Float64("temperature", cfg.Temperature),
		zap.Int("history", len(seeded)),
	)
	return &geminiHandle{chat: session, cfg: cfg}, nil
}

type geminiHandle struct {
	chat *genai.Chat
	cfg  HandleConfig
}

func (h *geminiHandle) Config() HandleConfig { return h.cfg }

func (h *geminiHandle) Exchange(ctx context.Context, text string) (string, error) {
	resp, err := h.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", &UpstreamError{Provider: providerGemini, Err: err}
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

// toGeminiHistory 转换为 genai 历史。Gemini 要求历史以用户轮次开头，因此丢弃开头的助手消息（如问候语）。
func toGeminiHistory(messages []chat.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		role := string(genai.RoleModel)
		if msg.Role == chat.RoleUser {
			role = string(genai.RoleUser)
		}
		if len(history) == 0 && role != string(genai.RoleUser) {
			continue
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return history
}
