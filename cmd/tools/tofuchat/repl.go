package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	chatHandler "github.com/zhouzirui/tofu-tavern/backend/internal/handler/chat"
	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
	chatService "github.com/zhouzirui/tofu-tavern/backend/internal/service/chat"
)

const helpText = `Commands:
  /quiz, /facts       ask a quick-starter question
  /starter <id>       ask any quick starter by id
  /temp <t>           set creativity (0 to 1)
  /reset              start over
  /export [file]      save the chat as markdown
  /copy               copy the chat to the clipboard
  /history            print the conversation so far
  /quit               leave`

var errQuit = errors.New("quit")

type repl struct {
	session *chatService.Conversation
	in      io.Reader
	out     io.Writer
	render  bool
	copy    func(string) error
}

func (r *repl) run(ctx context.Context) error {
	p := r.session.Persona()
	fmt.Fprintf(r.out, "%s · %s (session %s)\n", p.Name, p.Title, r.session.ID())
	fmt.Fprintln(r.out, "Type /help for commands.")
	r.printTranscript()

	scanner := bufio.NewScanner(r.in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		err := r.handleLine(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "! %v\n", err)
		}
	}
}

func (r *repl) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return r.submit(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, helpText)
		return nil
	case "/quiz":
		return r.starter(ctx, "quiz")
	case "/facts":
		return r.starter(ctx, "cat-facts")
	case "/starter":
		if len(args) != 1 {
			return errors.New("usage: /starter <id>")
		}
		return r.starter(ctx, args[0])
	case "/temp":
		if len(args) != 1 {
			return fmt.Errorf("usage: /temp <t> (current %.2f)", r.session.Temperature())
		}
		t, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q", args[0])
		}
		t = clamp(t)
		if err := r.session.SetTemperature(ctx, t); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "temperature set to %.2f\n", t)
		return nil
	case "/reset":
		if err := r.session.Reset(ctx); err != nil {
			return err
		}
		r.printTranscript()
		return nil
	case "/export":
		path := chatHandler.ExportFilename
		if len(args) > 0 {
			path = args[0]
		}
		if err := os.WriteFile(path, []byte(r.session.Export()), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "saved %s\n", path)
		return nil
	case "/copy":
		if err := r.copy(r.session.Export()); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintln(r.out, "copied chat to clipboard")
		return nil
	case "/history":
		r.printTranscript()
		return nil
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func (r *repl) starter(ctx context.Context, id string) error {
	if _, err := r.session.QueueStarter(ctx, id); err != nil {
		return err
	}
	return r.submit(ctx, "")
}

// submit sends the queued starter if there is one, otherwise the typed line.
func (r *repl) submit(ctx context.Context, text string) error {
	prefill := r.session.PendingPrefill()
	if text == "" && prefill == "" {
		return nil
	}
	if prefill != "" {
		fmt.Fprintf(r.out, "%s: %s\n", chat.RoleUser.Title(), prefill)
	}
	reply, err := r.session.Submit(ctx, text)
	if err != nil {
		return err
	}
	r.printMessage(reply)
	return nil
}

func (r *repl) printTranscript() {
	for _, msg := range r.session.Transcript() {
		r.printMessage(msg)
	}
}

func (r *repl) printMessage(msg chat.Message) {
	text := fmt.Sprintf("**%s**: %s", msg.Role.Title(), msg.Content)
	if r.render {
		if styled, err := glamour.Render(text, "dark"); err == nil {
			fmt.Fprint(r.out, styled)
			return
		}
	}
	fmt.Fprintln(r.out, text)
}

func clamp(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
