package app

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/config"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/store"
)

// App 聚合服务端与命令行共用的依赖。
type App struct {
	Personas  *persona.MemoryStore
	Factory   ai.Factory
	Snapshots store.Store
	Chat      *chat.Service
}

// New 按配置装配人设、模型工厂、快照存储与会话服务。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	personas, err := LoadPersonas(cfg.Chat.PersonasFile)
	if err != nil {
		return nil, err
	}

	factory, err := NewFactory(ctx, cfg.AI, logger)
	if err != nil {
		return nil, err
	}

	snapshots, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	chatSvc := chat.NewService(personas, factory, snapshots, chat.Config{
		DefaultTemperature: cfg.Chat.DefaultTemperature,
		ReplayHistory:      cfg.Chat.ReplayHistory,
		IdleTimeout:        cfg.Chat.IdleTimeout,
	}, logger)

	return &App{
		Personas:  personas,
		Factory:   factory,
		Snapshots: snapshots,
		Chat:      chatSvc,
	}, nil
}

// Close 释放快照存储。
func (a *App) Close() error {
	if a == nil || a.Snapshots == nil {
		return nil
	}
	return a.Snapshots.Close()
}

// LoadPersonas 返回内置人设，并叠加可选 YAML 文件中的同名覆盖。
func LoadPersonas(path string) (*persona.MemoryStore, error) {
	items := persona.Seed()
	if path != "" {
		extra, err := persona.LoadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load personas from %s", path)
		}
		items = append(items, extra...)
	}
	return persona.NewMemoryStore(items), nil
}

// NewFactory 根据提供方创建模型句柄工厂。
func NewFactory(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (ai.Factory, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		factory, err := ai.NewGeminiFactory(ctx, cfg.Gemini, cfg.Timeout, logger)
		if err != nil {
			return nil, err
		}
		return factory, nil
	case config.ProviderArk:
		return ai.NewArkFactory(cfg.Ark, cfg.Timeout, logger), nil
	default:
		return nil, &config.StartupError{Key: "TOFU_PROVIDER", Reason: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
}
