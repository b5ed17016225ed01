package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/config"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

const (
	providerArk = "ark"
	// historyLimit 限制每次调用携带的历史消息条数。
	historyLimit = 20
)

// ChatModelBuilder 根据温度创建 eino 模型，便于测试替换。
type ChatModelBuilder func(ctx context.Context, temperature float64) (model.BaseChatModel, error)

// ArkFactory 基于 eino 链（提示词模板 + 方舟模型）创建对话句柄。
type ArkFactory struct {
	build  ChatModelBuilder
	logger *zap.Logger
}

// NewArkFactory 使用方舟配置创建工厂。
func NewArkFactory(cfg config.ArkConfig, timeout time.Duration, logger *zap.Logger) *ArkFactory {
	return NewArkFactoryWithBuilder(func(ctx context.Context, temperature float64) (model.BaseChatModel, error) {
		return cfg.NewChatModel(ctx, temperature, timeout)
	}, logger)
}

// NewArkFactoryWithBuilder 使用自定义模型构建函数创建工厂。
func NewArkFactoryWithBuilder(build ChatModelBuilder, logger *zap.Logger) *ArkFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArkFactory{build: build, logger: logger}
}

// NewHandle 为给定温度编译一条新的 eino 链。
func (f *ArkFactory) NewHandle(ctx context.Context, cfg HandleConfig, history []chat.Message) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chatModel, err := f.build(ctx, cfg.Temperature)
	if err != nil {
		return nil, &ConfigError{Field: "model", Reason: "failed to create chat model", Err: err}
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, &ConfigError{Field: "chain", Reason: "failed to compile chat chain", Err: err}
	}

	seeded := toSchemaHistory(history)
	f.logger.Debug("ark handle created",
		zap.Float64("temperature", cfg.Temperature),
		zap.Int("history", len(seeded)),
	)
	return &arkHandle{chain: runnable, cfg: cfg, history: seeded}, nil
}

type arkHandle struct {
	chain compose.Runnable[map[string]any, *schema.Message]
	cfg   HandleConfig

	mu      sync.Mutex
	history []*schema.Message
}

func (h *arkHandle) Config() HandleConfig { return h.cfg }

func (h *arkHandle) Exchange(ctx context.Context, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	input := map[string]any{
		"system":  h.cfg.SystemPersona,
		"history": recent(h.history),
		"query":   text,
	}

	response, err := h.chain.Invoke(ctx, input)
	if err != nil {
		return "", &UpstreamError{Provider: providerArk, Err: fmt.Errorf("failed to run AI chain: %w", err)}
	}
	if response == nil {
		return "", nil
	}

	h.history = append(h.history, schema.UserMessage(text))
	if response.Content != "" {
		h.history = append(h.history, schema.AssistantMessage(response.Content, nil))
	}
	return response.Content, nil
}

func recent(history []*schema.Message) []*schema.Message {
	if len(history) <= historyLimit {
		return history
	}
	return history[len(history)-historyLimit:]
}

func toSchemaHistory(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
