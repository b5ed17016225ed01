package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

type fakeChatModel struct {
	reply  string
	err    error
	inputs [][]*schema.Message
}

func (m *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *fakeChatModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func TestArkHandleExchangeKeepsHistory(t *testing.T) {
	fake := &fakeChatModel{reply: "Meow, hello"}
	var temps []float64
	factory := NewArkFactoryWithBuilder(func(ctx context.Context, temperature float64) (model.BaseChatModel, error) {
		temps = append(temps, temperature)
		return fake, nil
	}, nil)

	seed := []chat.Message{{Role: chat.RoleAssistant, Content: "greeting"}}
	handle, err := factory.NewHandle(context.Background(), HandleConfig{SystemPersona: "You are a cat", Temperature: 0.7}, seed)
	require.NoError(t, err)
	require.Equal(t, []float64{0.7}, temps)
	require.InDelta(t, 0.7, handle.Config().Temperature, 1e-9)

	reply, err := handle.Exchange(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, "Meow, hello", reply)

	_, err = handle.Exchange(context.Background(), "again")
	require.NoError(t, err)

	require.Len(t, fake.inputs, 2)
	// system + seeded greeting + query
	require.Len(t, fake.inputs[0], 3)
	require.Equal(t, schema.System, fake.inputs[0][0].Role)
	require.Equal(t, "You are a cat", fake.inputs[0][0].Content)
	// system + greeting + first turn pair + query
	require.Len(t, fake.inputs[1], 5)
	require.Equal(t, "again", fake.inputs[1][4].Content)
}

func TestArkHandleWrapsUpstreamError(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("quota exceeded")}
	factory := NewArkFactoryWithBuilder(func(ctx context.Context, temperature float64) (model.BaseChatModel, error) {
		return fake, nil
	}, nil)

	handle, err := factory.NewHandle(context.Background(), HandleConfig{SystemPersona: "cat", Temperature: 0.4}, nil)
	require.NoError(t, err)

	_, err = handle.Exchange(context.Background(), "hi")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Contains(t, upstream.Short(), "quota exceeded")
}

func TestArkFactoryReportsConfigError(t *testing.T) {
	factory := NewArkFactoryWithBuilder(func(ctx context.Context, temperature float64) (model.BaseChatModel, error) {
		return nil, errors.New("missing credentials")
	}, nil)

	_, err := factory.NewHandle(context.Background(), HandleConfig{SystemPersona: "cat", Temperature: 0.4}, nil)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))

	_, err = factory.NewHandle(context.Background(), HandleConfig{SystemPersona: "cat", Temperature: 2}, nil)
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "temperature", cfgErr.Field)
}
