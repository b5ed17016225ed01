package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
	"github.com/zhouzirui/tofu-tavern/backend/internal/service/ai"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
)

type echoHandle struct{ cfg ai.HandleConfig }

func (h *echoHandle) Config() ai.HandleConfig { return h.cfg }

func (h *echoHandle) Exchange(ctx context.Context, text string) (string, error) {
	return "You said: " + text, nil
}

type echoFactory struct{}

func (echoFactory) NewHandle(ctx context.Context, cfg ai.HandleConfig, history []chat.Message) (ai.Handle, error) {
	return &echoHandle{cfg: cfg}, nil
}

func newTestREPL(t *testing.T, input string) (*repl, *bytes.Buffer, *string) {
	t.Helper()
	svc := chatService.NewService(persona.NewMemoryStore(persona.Seed()), echoFactory{}, nil,
		chatService.Config{DefaultTemperature: chatService.DefaultTemperature}, nil)
	session, err := svc.CreateSession(context.Background(), "")
	require.NoError(t, err)

	out := &bytes.Buffer{}
	copied := new(string)
	return &repl{
		session: session,
		in:      strings.NewReader(input),
		out:     out,
		copy: func(s string) error {
			*copied = s
			return nil
		},
	}, out, copied
}

func TestREPLConversation(t *testing.T) {
	exportPath := filepath.Join(t.TempDir(), "chat.md")
	input := strings.Join([]string{
		"hello",
		"/temp 5",
		"/quiz",
		"/copy",
		"/export " + exportPath,
		"/quit",
		"never read",
	}, "\n")

	r, out, copied := newTestREPL(t, input)
	require.NoError(t, r.run(context.Background()))

	output := out.String()
	assert.Contains(t, output, "Meow! Hi there, human!")
	assert.Contains(t, output, "**Assistant**: You said: hello *meow*")
	assert.Contains(t, output, "temperature set to 1.00")
	assert.Contains(t, output, "User: Can you quiz me on differentiation with 3 questions?")
	assert.NotContains(t, output, "never read")

	assert.Equal(t, 1.0, r.session.Temperature())
	assert.Len(t, r.session.Transcript(), 5)
	assert.Equal(t, r.session.Export(), *copied)

	saved, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Equal(t, r.session.Export(), string(saved))
}

func TestREPLReset(t *testing.T) {
	r, _, _ := newTestREPL(t, "hi\n/reset\n")
	require.NoError(t, r.run(context.Background()))
	assert.Len(t, r.session.Transcript(), 1)
}

func TestREPLReportsBadCommands(t *testing.T) {
	r, out, _ := newTestREPL(t, "/dance\n/temp abc\n/starter nope\n\n")
	require.NoError(t, r.run(context.Background()))

	output := out.String()
	assert.Contains(t, output, "unknown command /dance")
	assert.Contains(t, output, `invalid temperature "abc"`)
	assert.Contains(t, output, "! ")
	assert.Len(t, r.session.Transcript(), 1)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1))
	assert.Equal(t, 0.5, clamp(0.5))
	assert.Equal(t, 1.0, clamp(3))
}
