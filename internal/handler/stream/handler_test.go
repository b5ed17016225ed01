package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
)

type echoHandle struct{ cfg ai.HandleConfig }

func (h *echoHandle) Config() ai.HandleConfig { return h.cfg }

func (h *echoHandle) Exchange(ctx context.Context, text string) (string, error) {
	return "you said " + text, nil
}

type echoFactory struct{}

func (echoFactory) NewHandle(ctx context.Context, cfg ai.HandleConfig, history []chat.Message) (ai.Handle, error) {
	return &echoHandle{cfg: cfg}, nil
}

func setup(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService(persona.NewMemoryStore(persona.Seed()), echoFactory{}, nil,
		chatservice.Config{DefaultTemperature: chatservice.DefaultTemperature}, nil)
	r := chi.NewRouter()
	New(chatSvc, nil).RegisterRoutes(r)
	return r, chatSvc
}

func TestStreamEmitsStartMessageEnd(t *testing.T) {
	r, chatSvc := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "tofu")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stream/"+session.ID()+"?message="+url.QueryEscape("hello"), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	body := resp.Body.String()
	for _, event := range []string{"event: start", "event: message", "event: end"} {
		if !strings.Contains(body, event) {
			t.Fatalf("missing %q in %s", event, body)
		}
	}
	if !strings.Contains(body, "you said hello *meow*") {
		t.Fatalf("expected marked reply in stream, got %s", body)
	}
	if n := len(session.Transcript()); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	r, chatSvc := setup(t)
	session, err := chatSvc.CreateSession(context.Background(), "tofu")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/"+session.ID(), nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStreamUsesPendingPrefill(t *testing.T) {
	r, chatSvc := setup(t)
	ctx := context.Background()
	session, err := chatSvc.CreateSession(ctx, "tofu")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := session.QueueStarter(ctx, "cat-facts"); err != nil {
		t.Fatalf("QueueStarter err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/"+session.ID(), nil))

	if !strings.Contains(resp.Body.String(), "weird cat fact") {
		t.Fatalf("expected starter prompt to be sent, got %s", resp.Body.String())
	}
}

func TestStreamUnknownSession(t *testing.T) {
	r, _ := setup(t)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/missing?message=hi", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
