package claude

import "encoding/json"

// Kind discriminates decoded stream messages.
type Kind string

const (
	KindAssistant Kind = "assistant" // Model output: text and tool invocations
	KindUser      Kind = "user"      // Tool results fed back to the model
	KindResult    Kind = "result"    // Final turn summary
	KindSystem    Kind = "system"    // Init and other CLI notices
	KindRaw       Kind = "raw"       // Anything that could not be classified
)

// Message is one decoded line of CLI output. Messages are values and hold
// no reference back to the session that produced them.
type Message struct {
	Kind    Kind   `json:"kind"`
	Content string `json:"content,omitempty"`
	Subtype string `json:"subtype,omitempty"`

	// SessionID is the external conversation id from the payload's
	// dedicated session_id field, when present.
	SessionID string `json:"session_id,omitempty"`

	// Raw is the original line exactly as reassembled from stdout.
	Raw string `json:"raw"`

	// Metadata holds optional well-known fields (cwd, tools, apiKeySource).
	// Nil when none of them were present.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Partial is set when the line was flushed at end-of-stream without a
	// terminating newline and may be truncated.
	Partial bool `json:"partial,omitempty"`

	// Body carries the variant-specific fields. Nil for KindRaw.
	Body Body `json:"body,omitempty"`
}

// Body is implemented by the per-kind payload variants.
type Body interface {
	kind() Kind
}

// ToolUse is a tool invocation announced by the assistant.
type ToolUse struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AssistantBody is the payload of an assistant message.
type AssistantBody struct {
	Model    string    `json:"model,omitempty"`
	Texts    []string  `json:"texts,omitempty"`
	ToolUses []ToolUse `json:"tool_uses,omitempty"`
}

func (*AssistantBody) kind() Kind { return KindAssistant }

// NameSource records how a tool result's tool name was determined.
type NameSource string

const (
	NameFromCorrelation NameSource = "correlation"
	NameFromHeuristic   NameSource = "heuristic"
)

// ToolResult is the outcome of a tool invocation, reported in a user message.
type ToolResult struct {
	ToolUseID  string     `json:"tool_use_id,omitempty"`
	ToolName   string     `json:"tool_name"`
	NameSource NameSource `json:"name_source"`
	Content    string     `json:"content,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// UserBody is the payload of a user message.
type UserBody struct {
	Texts       []string     `json:"texts,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

func (*UserBody) kind() Kind { return KindUser }

// ResultBody is the payload of the final result message. Counters are
// pointers because the CLI omits them on some subtypes.
type ResultBody struct {
	IsError       bool     `json:"is_error,omitempty"`
	Result        string   `json:"result,omitempty"`
	CostUSD       *float64 `json:"total_cost_usd,omitempty"`
	DurationMs    *int     `json:"duration_ms,omitempty"`
	DurationAPIMs *int     `json:"duration_api_ms,omitempty"`
	NumTurns      *int     `json:"num_turns,omitempty"`
}

func (*ResultBody) kind() Kind { return KindResult }

// SystemBody is the payload of a system message.
type SystemBody struct {
	Model        string   `json:"model,omitempty"`
	CWD          string   `json:"cwd,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	APIKeySource string   `json:"api_key_source,omitempty"`
}

func (*SystemBody) kind() Kind { return KindSystem }

// rawMessage builds the fallback for a line that could not be classified.
func rawMessage(line string) Message {
	return Message{Kind: KindRaw, Content: line, Raw: line}
}

// ToolUseID returns the first tool invocation id the message refers to.
func (m Message) ToolUseID() string {
	switch b := m.Body.(type) {
	case *AssistantBody:
		for _, tu := range b.ToolUses {
			if tu.ID != "" {
				return tu.ID
			}
		}
	case *UserBody:
		for _, tr := range b.ToolResults {
			if tr.ToolUseID != "" {
				return tr.ToolUseID
			}
		}
	}
	return ""
}

// ToolName returns the tool name of the first tool invocation or result.
func (m Message) ToolName() string {
	switch b := m.Body.(type) {
	case *AssistantBody:
		if len(b.ToolUses) > 0 {
			return b.ToolUses[0].Name
		}
	case *UserBody:
		if len(b.ToolResults) > 0 {
			return b.ToolResults[0].ToolName
		}
	}
	return ""
}

// CostUSD returns the reported cost of a result message.
func (m Message) CostUSD() (float64, bool) {
	if b, ok := m.Body.(*ResultBody); ok && b.CostUSD != nil {
		return *b.CostUSD, true
	}
	return 0, false
}

// DurationMs returns the reported wall duration of a result message.
func (m Message) DurationMs() (int, bool) {
	if b, ok := m.Body.(*ResultBody); ok && b.DurationMs != nil {
		return *b.DurationMs, true
	}
	return 0, false
}

// NumTurns returns the reported turn count of a result message.
func (m Message) NumTurns() (int, bool) {
	if b, ok := m.Body.(*ResultBody); ok && b.NumTurns != nil {
		return *b.NumTurns, true
	}
	return 0, false
}
