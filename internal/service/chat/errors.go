package chat

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrPersonaNotFound  = errors.New("persona not found")
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrNothingSubmitted = errors.New("nothing submitted")
	ErrBusy             = errors.New("a message is already being processed for this session")
	ErrTemperatureRange = errors.New("temperature must be within [0, 1]")
	ErrEmptyPrefill     = errors.New("prefill text is empty")
	ErrStarterNotFound  = errors.New("quick starter not found")
	ErrNotInitialized   = errors.New("session not initialized")
)
