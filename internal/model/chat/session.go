package chat

import "time"

// Snapshot is the persisted form of a conversation.
type Snapshot struct {
	ID          string    `json:"id"`
	PersonaID   string    `json:"personaId"`
	Temperature float64   `json:"temperature"`
	Transcript  []Message `json:"transcript"`
	Prefill     string    `json:"prefill,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// View is what the HTTP layer renders for a session.
type View struct {
	ID             string    `json:"id"`
	PersonaID      string    `json:"personaId"`
	Temperature    float64   `json:"temperature"`
	Transcript     []Message `json:"transcript"`
	PendingPrefill string    `json:"pendingPrefill,omitempty"`
}
