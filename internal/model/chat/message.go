package chat

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Title returns the display form used in exports ("User", "Assistant").
func (r Role) Title() string {
	return cases.Title(language.English).String(string(r))
}

// Message is a single immutable transcript entry.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Export renders a transcript as downloadable markdown, one
// "**Role**: content" block per message separated by blank lines.
func Export(messages []Message) string {
	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		blocks = append(blocks, "**"+msg.Role.Title()+"**: "+msg.Content)
	}
	return strings.Join(blocks, "\n\n")
}
