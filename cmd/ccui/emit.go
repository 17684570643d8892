package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/JSON-OBJECT/claude-code-ui/claude"
	"github.com/JSON-OBJECT/claude-code-ui/config"
)

// Emitter writes session events to the output stream. Callbacks arrive on
// the manager's goroutines, so writes are serialized.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewEmitter returns an Emitter writing format (ndjson or text) to w.
func NewEmitter(w io.Writer, format string) *Emitter {
	return &Emitter{w: w, format: format}
}

type messageEvent struct {
	Type    string         `json:"type"`
	Handle  string         `json:"handle"`
	Message claude.Message `json:"message"`
}

type completionEvent struct {
	Type string `json:"type"`
	claude.Completion
}

type errorEvent struct {
	Type    string `json:"type"`
	Handle  string `json:"handle"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message emits one decoded message.
func (e *Emitter) Message(handle string, msg claude.Message) {
	if e.format == config.OutputNDJSON {
		e.json(messageEvent{Type: "message", Handle: handle, Message: msg})
		return
	}
	e.text(formatMessage(msg))
}

// Completion emits the end of one turn.
func (e *Emitter) Completion(c claude.Completion) {
	if e.format == config.OutputNDJSON {
		e.json(completionEvent{Type: "complete", Completion: c})
		return
	}
	line := fmt.Sprintf("-- %s (exit %d, %s)", c.StateName, c.ExitCode, c.Duration.Round(time.Millisecond))
	if c.ConversationID != "" {
		line += " conversation " + c.ConversationID
	}
	if c.Error != "" {
		line += ": " + c.Error
	}
	e.text(line)
}

// Error emits an asynchronous session error.
func (e *Emitter) Error(handle string, err error) {
	category := claude.Classify(err, "")
	friendly := claude.FriendlyMessage(err, "")
	if e.format == config.OutputNDJSON {
		e.json(errorEvent{Type: "error", Handle: handle, Code: string(category), Message: friendly})
		return
	}
	e.text("!! " + friendly)
}

func (e *Emitter) json(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w.Write(append(data, '\n'))
}

func (e *Emitter) text(line string) {
	if line == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.w, line)
}

// formatMessage renders a message for humans. Tool results are shown with
// the name the decoder resolved.
func formatMessage(msg claude.Message) string {
	switch body := msg.Body.(type) {
	case *claude.AssistantBody:
		lines := append([]string(nil), body.Texts...)
		for _, tu := range body.ToolUses {
			lines = append(lines, fmt.Sprintf("> %s %s", tu.Name, string(tu.Input)))
		}
		return strings.Join(lines, "\n")
	case *claude.UserBody:
		lines := append([]string(nil), body.Texts...)
		for _, r := range body.ToolResults {
			prefix := "< " + r.ToolName
			if r.IsError {
				prefix += " (error)"
			}
			lines = append(lines, prefix+"\n"+indent(r.Content))
		}
		if len(lines) == 0 {
			return msg.Content
		}
		return strings.Join(lines, "\n")
	case *claude.ResultBody, *claude.SystemBody:
		return "# " + msg.Content
	}
	return msg.Content
}

func indent(s string) string {
	if s == "" {
		return ""
	}
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
