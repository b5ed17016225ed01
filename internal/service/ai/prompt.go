package ai

import (
	"strings"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/persona"
)

// BuildSystemPrompt 返回人设的系统提示词，附加文件中声明的额外规则。
func BuildSystemPrompt(p persona.Persona) string {
	base := strings.TrimSpace(p.SystemPrompt)
	if len(p.Rules) == 0 {
		return base
	}

	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString("\n\nAdditional rules:")
	for _, rule := range p.Rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		builder.WriteString("\n- ")
		builder.WriteString(rule)
	}
	return builder.String()
}
