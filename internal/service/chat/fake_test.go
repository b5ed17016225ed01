package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
)

type fakeHandle struct {
	cfg     ai.HandleConfig
	history []chat.Message
	factory *fakeFactory
}

func (h *fakeHandle) Config() ai.HandleConfig { return h.cfg }

func (h *fakeHandle) Exchange(ctx context.Context, text string) (string, error) {
	f := h.factory
	f.mu.Lock()
	f.exchanges = append(f.exchanges, exchange{handle: h, text: text})
	reply, err, block := f.reply, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

type exchange struct {
	handle *fakeHandle
	text   string
}

type fakeFactory struct {
	mu        sync.Mutex
	reply     string
	err       error
	block     chan struct{}
	failNew   bool
	handles   []*fakeHandle
	exchanges []exchange
}

func (f *fakeFactory) NewHandle(ctx context.Context, cfg ai.HandleConfig, history []chat.Message) (ai.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNew {
		return nil, &ai.ConfigError{Field: "model", Reason: "unavailable", Err: errors.New("boom")}
	}
	h := &fakeHandle{cfg: cfg, history: history, factory: f}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeFactory) setReply(reply string, err error) {
	f.mu.Lock()
	f.reply, f.err = reply, err
	f.mu.Unlock()
}

func (f *fakeFactory) lastExchange() exchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges[len(f.exchanges)-1]
}

func (f *fakeFactory) handleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func tofu() persona.Persona {
	return persona.Seed()[0]
}

func newTestConversation(f *fakeFactory) *Conversation {
	return NewConversation("c1", tofu(), f, Options{DefaultTemperature: DefaultTemperature})
}
