package chat

import "testing"

func TestExportFormatsTranscriptInOrder(t *testing.T) {
	messages := []Message{
		{Role: RoleAssistant, Content: "Meow! Hi there"},
		{Role: RoleUser, Content: "Hello"},
		{Role: RoleAssistant, Content: "Hi human! *meow*"},
	}

	got := Export(messages)
	want := "**Assistant**: Meow! Hi there\n\n**User**: Hello\n\n**Assistant**: Hi human! *meow*"
	if got != want {
		t.Fatalf("unexpected export:\n%q\nwant\n%q", got, want)
	}
}

func TestExportEmptyTranscript(t *testing.T) {
	if got := Export(nil); got != "" {
		t.Fatalf("expected empty export, got %q", got)
	}
}
