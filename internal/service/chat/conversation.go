package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/tofu-tavern/backend/internal/analysis/marker"
	"github.com/zhouzirui/tofu-tavern/backend/internal/logging"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
)

// DefaultTemperature 是新会话的默认采样温度。
const DefaultTemperature = 0.4

// Options 控制单个会话的行为。
type Options struct {
	DefaultTemperature float64
	// ReplayHistory 为 true 时，温度变化后新建的上游句柄会以可见记录作为上下文。
	ReplayHistory bool
	Logger        *zap.Logger
	// OnChange 在每次状态变化后收到最新快照。
	OnChange func(ctx context.Context, snapshot chat.Snapshot)
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Conversation 是单个用户会话的状态机：记录、温度、上游句柄与预填充。
type Conversation struct {
	id      string
	persona persona.Persona
	prompt  string
	factory ai.Factory
	opts    Options

	// sendMu 串行化 Send 与会改变句柄的操作。
	sendMu sync.Mutex
	busy   atomic.Bool

	// persistMu 保证 Close 之后不再有快照写出。
	persistMu sync.Mutex
	closed    bool

	mu          sync.RWMutex
	initialized bool
	transcript  []chat.Message
	temperature float64
	handle      ai.Handle
	// seedHistory 表示下一次惰性创建句柄时用记录预置上下文（从存储恢复的会话）。
	seedHistory  bool
	prefill      string
	createdAt    time.Time
	lastActivity time.Time
}

// NewConversation 创建一个尚未初始化的会话。
func NewConversation(id string, p persona.Persona, factory ai.Factory, opts Options) *Conversation {
	opts = opts.withDefaults()
	temperature := opts.DefaultTemperature
	if temperature < 0 || temperature > 1 {
		temperature = DefaultTemperature
	}
	now := opts.Now()
	return &Conversation{
		id:           id,
		persona:      p,
		prompt:       ai.BuildSystemPrompt(p),
		factory:      factory,
		opts:         opts,
		temperature:  temperature,
		createdAt:    now,
		lastActivity: now,
	}
}

// RestoreConversation 从快照重建会话。上游句柄在下一次发送时惰性创建，并以记录预置上下文。
func RestoreConversation(snapshot chat.Snapshot, p persona.Persona, factory ai.Factory, opts Options) *Conversation {
	c := NewConversation(snapshot.ID, p, factory, opts)
	if snapshot.Temperature >= 0 && snapshot.Temperature <= 1 {
		c.temperature = snapshot.Temperature
	}
	c.transcript = append([]chat.Message(nil), snapshot.Transcript...)
	c.initialized = len(c.transcript) > 0
	c.seedHistory = true
	c.prefill = snapshot.Prefill
	if !snapshot.CreatedAt.IsZero() {
		c.createdAt = snapshot.CreatedAt
	}
	return c
}

func (c *Conversation) ID() string { return c.id }

func (c *Conversation) Persona() persona.Persona { return c.persona }

// Initialize 写入问候语并创建上游句柄，重复调用无副作用。
func (c *Conversation) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	err := c.initializeLocked(ctx)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(ctx, snapshot)
	return err
}

// initializeLocked 总是写入问候语；句柄创建失败时留空，由下一次发送惰性重建。
func (c *Conversation) initializeLocked(ctx context.Context) error {
	greeting := marker.Ensure(c.persona.OpeningLine, c.persona.Markers, c.persona.MarkerSuffix)
	c.transcript = []chat.Message{c.newMessage(chat.RoleAssistant, greeting)}
	c.initialized = true
	c.seedHistory = false

	handle, err := c.factory.NewHandle(ctx, c.handleConfigLocked(), nil)
	if err != nil {
		c.handle = nil
		return err
	}
	c.handle = handle
	return nil
}

// SetTemperature 修改温度；值变化时立即丢弃旧句柄并重建。
func (c *Conversation) SetTemperature(ctx context.Context, t float64) error {
	if t < 0 || t > 1 {
		return ErrTemperatureRange
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if t == c.temperature {
		c.mu.Unlock()
		return nil
	}
	previous := c.temperature
	c.temperature = t
	c.handle = nil

	var err error
	if c.initialized {
		var handle ai.Handle
		handle, err = c.factory.NewHandle(ctx, c.handleConfigLocked(), c.historyForNewHandleLocked())
		if err == nil {
			c.handle = handle
			c.seedHistory = false
		}
	}
	c.lastActivity = c.opts.Now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger(ctx).Info("temperature changed",
		zap.Float64("from", previous),
		zap.Float64("to", t),
		zap.Bool("handle_ready", err == nil),
	)
	c.notify(ctx, snapshot)
	return err
}

// Reset 清空记录、句柄与预填充，然后重新初始化。温度保持不变。
func (c *Conversation) Reset(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.transcript = nil
	c.handle = nil
	c.prefill = ""
	c.initialized = false
	c.seedHistory = false
	err := c.initializeLocked(ctx)
	c.lastActivity = c.opts.Now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger(ctx).Info("conversation reset")
	c.notify(ctx, snapshot)
	return err
}

// SetPrefill 排队一条文本，由下一次输入处理读取。后写覆盖先写。
func (c *Conversation) SetPrefill(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPrefill
	}

	c.mu.Lock()
	c.prefill = text
	c.lastActivity = c.opts.Now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(ctx, snapshot)
	return nil
}

// ConsumePrefillOrInput 返回并清空待处理的预填充；没有预填充时原样返回 live。
func (c *Conversation) ConsumePrefillOrInput(live string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefill != "" {
		text := c.prefill
		c.prefill = ""
		return text
	}
	return live
}

// QueueStarter 将人设的快捷提问排队为预填充。
func (c *Conversation) QueueStarter(ctx context.Context, starterID string) (persona.QuickStarter, error) {
	starter, ok := c.persona.Starter(starterID)
	if !ok {
		return persona.QuickStarter{}, ErrStarterNotFound
	}
	return starter, c.SetPrefill(ctx, starter.Prompt)
}

// Submit 处理一次输入事件：预填充优先于 live，二者皆空时返回 ErrNothingSubmitted。
func (c *Conversation) Submit(ctx context.Context, live string) (chat.Message, error) {
	text := c.ConsumePrefillOrInput(live)
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrNothingSubmitted
	}
	msg, err := c.Send(ctx, text)
	if errors.Is(err, ErrBusy) && text != live {
		c.mu.Lock()
		if c.prefill == "" {
			c.prefill = text
		}
		c.mu.Unlock()
	}
	return msg, err
}

// Send 追加用户消息，调用上游并追加经过标记处理的助手回复。
// 上游错误会被转换为人设内的错误台词，不会返回给调用方。
func (c *Conversation) Send(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	if !c.sendMu.TryLock() {
		return chat.Message{}, ErrBusy
	}
	defer c.sendMu.Unlock()
	c.busy.Store(true)
	defer c.busy.Store(false)

	log := c.logger(ctx)

	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return chat.Message{}, ErrNotInitialized
	}
	if err := c.ensureHandleLocked(ctx); err != nil {
		c.mu.Unlock()
		return chat.Message{}, err
	}
	c.transcript = append(c.transcript, c.newMessage(chat.RoleUser, text))
	handle := c.handle
	c.lastActivity = c.opts.Now()
	c.mu.Unlock()

	started := time.Now()
	reply, err := handle.Exchange(ctx, text)
	if err != nil {
		var upstream *ai.UpstreamError
		short := err.Error()
		if errors.As(err, &upstream) {
			short = upstream.Short()
		}
		log.Warn("upstream exchange failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		reply = c.persona.ErrorLine(short)
	} else {
		if strings.TrimSpace(reply) == "" {
			reply = c.persona.FillerLine
		}
		log.Debug("upstream exchange done", zap.Int("length", len(reply)), zap.Duration("elapsed", time.Since(started)))
	}

	decision := marker.Analyze(reply, c.persona.Markers, c.persona.MarkerSuffix)
	if decision.Appended {
		log.Debug("persona marker appended")
	}

	c.mu.Lock()
	assistant := c.newMessage(chat.RoleAssistant, decision.Text)
	c.transcript = append(c.transcript, assistant)
	c.lastActivity = c.opts.Now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(ctx, snapshot)
	return assistant, nil
}

// ensureHandleLocked 在句柄缺失或温度不一致时重建句柄。
func (c *Conversation) ensureHandleLocked(ctx context.Context) error {
	if c.handle != nil && c.handle.Config().Temperature == c.temperature {
		return nil
	}
	handle, err := c.factory.NewHandle(ctx, c.handleConfigLocked(), c.historyForNewHandleLocked())
	if err != nil {
		return err
	}
	c.handle = handle
	c.seedHistory = false
	return nil
}

func (c *Conversation) historyForNewHandleLocked() []chat.Message {
	if c.seedHistory || c.opts.ReplayHistory {
		return append([]chat.Message(nil), c.transcript...)
	}
	return nil
}

func (c *Conversation) handleConfigLocked() ai.HandleConfig {
	return ai.HandleConfig{SystemPersona: c.prompt, Temperature: c.temperature}
}

func (c *Conversation) newMessage(role chat.Role, content string) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: c.opts.Now(),
	}
}

// Transcript 返回记录副本。
func (c *Conversation) Transcript() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chat.Message(nil), c.transcript...)
}

func (c *Conversation) Temperature() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.temperature
}

func (c *Conversation) PendingPrefill() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prefill
}

// Export 以 markdown 形式导出记录。
func (c *Conversation) Export() string {
	return chat.Export(c.Transcript())
}

func (c *Conversation) Snapshot() chat.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Conversation) snapshotLocked() chat.Snapshot {
	return chat.Snapshot{
		ID:          c.id,
		PersonaID:   c.persona.ID,
		Temperature: c.temperature,
		Transcript:  append([]chat.Message(nil), c.transcript...),
		Prefill:     c.prefill,
		CreatedAt:   c.createdAt,
		UpdatedAt:   c.lastActivity,
	}
}

// View 返回 HTTP 层渲染所需的视图。
func (c *Conversation) View() chat.View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return chat.View{
		ID:             c.id,
		PersonaID:      c.persona.ID,
		Temperature:    c.temperature,
		Transcript:     append([]chat.Message(nil), c.transcript...),
		PendingPrefill: c.prefill,
	}
}

func (c *Conversation) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Busy 表示是否有发送正在进行。
func (c *Conversation) Busy() bool {
	return c.busy.Load()
}

func (c *Conversation) notify(ctx context.Context, snapshot chat.Snapshot) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if c.closed || c.opts.OnChange == nil {
		return
	}
	c.opts.OnChange(ctx, snapshot)
}

// Close 停止快照通知；返回时正在进行的通知已经完成。
func (c *Conversation) Close() {
	c.persistMu.Lock()
	c.closed = true
	c.persistMu.Unlock()
}

func (c *Conversation) logger(ctx context.Context) *zap.Logger {
	return logging.WithCtx(logging.WithSessionID(ctx, c.id), c.opts.Logger)
}
