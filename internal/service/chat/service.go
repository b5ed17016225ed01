package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
	"github.com/zhouzirui/tofu-tavern/backend/internal/store"
)

// Config 描述会话注册表的参数。
type Config struct {
	DefaultTemperature float64
	ReplayHistory      bool
	IdleTimeout        time.Duration
	EvictInterval      time.Duration
}

// Service 持有所有活跃会话，并负责快照持久化。
type Service struct {
	personas  persona.Store
	factory   ai.Factory
	snapshots store.Store
	cfg       Config
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Conversation
	// lifecycleMu 串行化从存储恢复与结束会话。
	lifecycleMu sync.Mutex

	evictRunning bool
}

// NewService 创建会话注册表。snapshots 为空时使用内存存储。
func NewService(personas persona.Store, factory ai.Factory, snapshots store.Store, cfg Config, logger *zap.Logger) *Service {
	if snapshots == nil {
		snapshots = store.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EvictInterval <= 0 && cfg.IdleTimeout > 0 {
		cfg.EvictInterval = cfg.IdleTimeout / 4
		if cfg.EvictInterval < time.Second {
			cfg.EvictInterval = time.Second
		}
	}
	return &Service{
		personas:  personas,
		factory:   factory,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		sessions:  make(map[string]*Conversation),
	}
}

func (s *Service) conversationOptions() Options {
	return Options{
		DefaultTemperature: s.cfg.DefaultTemperature,
		ReplayHistory:      s.cfg.ReplayHistory,
		Logger:             s.logger,
		OnChange:           s.persist,
	}
}

// persist 保存快照。失败只记录日志：内存中的记录才是权威数据。
func (s *Service) persist(ctx context.Context, snapshot chat.Snapshot) {
	if err := s.snapshots.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		logging.WithCtx(logging.WithSessionID(ctx, snapshot.ID), s.logger).
			Error("failed to persist session snapshot", zap.Error(err))
	}
}

// CreateSession 为指定人设创建并初始化会话。personaID 为空时使用默认人设。
func (s *Service) CreateSession(ctx context.Context, personaID string) (*Conversation, error) {
	var (
		p  persona.Persona
		ok bool
	)
	if personaID == "" {
		p, ok = s.personas.Default()
		personaID = persona.DefaultID
	} else {
		p, ok = s.personas.FindByID(personaID)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, personaID)
	}

	conv := NewConversation(uuid.NewString(), p, s.factory, s.conversationOptions())
	if err := conv.Initialize(ctx); err != nil {
		_ = s.snapshots.Delete(context.WithoutCancel(ctx), conv.ID())
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	s.mu.Lock()
	s.sessions[conv.ID()] = conv
	s.mu.Unlock()

	logging.WithCtx(logging.WithSessionID(ctx, conv.ID()), s.logger).
		Info("session created", zap.String("persona", p.ID))
	return conv, nil
}

// GetSession 先查内存，再从存储恢复。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Conversation, error) {
	s.mu.RLock()
	conv, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return conv, nil
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	snapshot, err := s.snapshots.Load(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	p, ok := s.personas.FindByID(snapshot.PersonaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, snapshot.PersonaID)
	}
	restored := RestoreConversation(snapshot, p, s.factory, s.conversationOptions())

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	s.sessions[sessionID] = restored

	logging.WithCtx(logging.WithSessionID(ctx, sessionID), s.logger).
		Info("session restored", zap.Int("messages", len(snapshot.Transcript)))
	return restored, nil
}

// EndSession 从内存与存储中删除会话。进行中的发送完成后不会再写回快照。
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	conv, inMemory := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if inMemory {
		conv.Close()
	}

	err := s.snapshots.Delete(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !inMemory {
			return ErrSessionNotFound
		}
	case err != nil:
		return fmt.Errorf("delete session: %w", err)
	}

	logging.WithCtx(logging.WithSessionID(ctx, sessionID), s.logger).Info("session ended")
	return nil
}

// Personas 返回人设目录。
func (s *Service) Personas() []persona.Persona {
	return s.personas.List()
}

// ActiveSessions 返回内存中的会话数量。
func (s *Service) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
