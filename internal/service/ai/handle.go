package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

// HandleConfig 描述一个上游会话句柄的不可变参数。
type HandleConfig struct {
	SystemPersona string
	Temperature   float64
}

// Validate 校验句柄参数，失败时返回 *ConfigError。
func (c HandleConfig) Validate() error {
	if strings.TrimSpace(c.SystemPersona) == "" {
		return &ConfigError{Field: "systemPersona", Reason: "must not be empty"}
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return &ConfigError{Field: "temperature", Reason: fmt.Sprintf("%.2f outside [0, 1]", c.Temperature)}
	}
	return nil
}

// Handle 是绑定了人设与温度的上游对话，自行维护上游上下文。
type Handle interface {
	Exchange(ctx context.Context, text string) (string, error)
	Config() HandleConfig
}

// Factory 创建新的上游句柄。history 用于为新句柄预置上下文，可为空。
type Factory interface {
	NewHandle(ctx context.Context, cfg HandleConfig, history []chat.Message) (Handle, error)
}

// ConfigError 表示句柄参数无效或上游客户端无法构建。
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("invalid handle config %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UpstreamError 包装一次上游调用失败（网络、鉴权、配额、响应格式）。
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

const shortLimit = 200

// Short 返回适合嵌入回复的一行错误描述。
func (e *UpstreamError) Short() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := strings.TrimSpace(e.Err.Error())
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	msg = strings.ReplaceAll(msg, "`", "'")
	if utf8.RuneCountInString(msg) > shortLimit {
		msg = string([]rune(msg)[:shortLimit]) + "…"
	}
	return msg
}
