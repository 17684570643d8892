package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// streamMessage represents a JSON line from Claude's stream-json output.
// Fields whose type varies between CLI versions are kept raw and decoded
// leniently so one odd field never costs the whole line.
type streamMessage struct {
	Type      string          `json:"type"`    // "system", "assistant", "user", "result"
	Subtype   string          `json:"subtype"` // "init", "success", "error_during_execution", ...
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`

	// system/init
	Model        string          `json:"model"`
	CWD          string          `json:"cwd"`
	Tools        json.RawMessage `json:"tools"`
	APIKeySource string          `json:"apiKeySource"`

	// result
	IsError       bool            `json:"is_error"`
	Result        json.RawMessage `json:"result"`
	Error         json.RawMessage `json:"error"`  // string or {"message": ...}
	Errors        json.RawMessage `json:"errors"` // array, used by error_during_execution
	TotalCostUSD  *float64        `json:"total_cost_usd"`
	CostUSD       *float64        `json:"cost_usd"` // older CLIs
	DurationMs    *float64        `json:"duration_ms"`
	DurationAPIMs *float64        `json:"duration_api_ms"`
	NumTurns      *float64        `json:"num_turns"`
}

// streamBody is the nested "message" object of assistant and user lines.
type streamBody struct {
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content"` // string or array of blocks
}

// contentBlock is one element of message.content.
type contentBlock struct {
	Type      string          `json:"type"` // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`   // tool_use id
	Name      string          `json:"name,omitempty"` // tool_use name
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolUseId string          `json:"toolUseId,omitempty"` // camelCase variant seen from some CLI builds
	Content   json.RawMessage `json:"content,omitempty"`   // tool_result: string or array
	IsError   bool            `json:"is_error,omitempty"`
}

// Decoder turns stream lines into Messages. It is safe for concurrent use
// across sessions; per-session state lives in the ToolStores.
type Decoder struct {
	stores *ToolStores
	names  *ToolNameChain
	log    *zap.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithHeuristicRules replaces the built-in tool name heuristics.
func WithHeuristicRules(rules []HeuristicRule) DecoderOption {
	return func(d *Decoder) {
		d.names = NewToolNameChain(d.stores, rules)
	}
}

// NewDecoder returns a Decoder recording tool invocations into stores.
func NewDecoder(stores *ToolStores, log *zap.Logger, opts ...DecoderOption) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Decoder{
		stores: stores,
		names:  NewToolNameChain(stores, nil),
		log:    log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DecodeLine decodes a reassembled line, carrying its Partial flag over.
func (d *Decoder) DecodeLine(handle string, line Line) Message {
	msg := d.Decode(handle, line.Text)
	msg.Partial = line.Partial
	return msg
}

// Decode classifies one line for the session identified by handle. It never
// fails: anything it cannot classify comes back as a KindRaw message whose
// content is the line itself.
func (d *Decoder) Decode(handle, line string) Message {
	trimmed := strings.TrimSpace(line)

	// Claude CLI with --verbose may print plain informational lines.
	if !strings.HasPrefix(trimmed, "{") {
		d.log.Debug("non-JSON line from Claude CLI", zap.String("line", truncateForLog(line)))
		return rawMessage(line)
	}

	var sm streamMessage
	if err := json.Unmarshal([]byte(trimmed), &sm); err != nil {
		d.log.Warn("failed to parse stream message",
			zap.Error(&MalformedLineError{Line: line, Err: err}))
		return rawMessage(line)
	}

	msg := Message{
		Subtype:   sm.Subtype,
		SessionID: sm.SessionID,
		Raw:       line,
		Metadata:  extractMetadata(&sm),
	}

	switch sm.Type {
	case "assistant":
		msg.Kind = KindAssistant
		msg.Body, msg.Content = d.decodeAssistant(handle, sm.Message)
	case "user":
		msg.Kind = KindUser
		msg.Body, msg.Content = d.decodeUser(handle, sm.Message)
	case "result":
		msg.Kind = KindResult
		msg.Body, msg.Content = decodeResult(&sm)
	case "system":
		msg.Kind = KindSystem
		msg.Body, msg.Content = decodeSystem(&sm)
	default:
		d.log.Debug("unhandled stream message type", zap.String("type", sm.Type))
		return rawMessage(line)
	}
	return msg
}

// decodeBlocks returns message.content as blocks. A plain string content is
// presented as a single text block.
func (d *Decoder) decodeBlocks(raw json.RawMessage) (string, []contentBlock) {
	if len(raw) == 0 {
		return "", nil
	}
	var body streamBody
	if err := json.Unmarshal(raw, &body); err != nil {
		d.log.Debug("unexpected message body", zap.Error(err))
		return "", nil
	}
	if len(body.Content) == 0 {
		return body.Model, nil
	}

	var text string
	if err := json.Unmarshal(body.Content, &text); err == nil {
		return body.Model, []contentBlock{{Type: "text", Text: text}}
	}
	var blocks []contentBlock
	if err := json.Unmarshal(body.Content, &blocks); err != nil {
		d.log.Debug("unexpected message content", zap.Error(err))
		return body.Model, nil
	}
	return body.Model, blocks
}

func (d *Decoder) decodeAssistant(handle string, raw json.RawMessage) (*AssistantBody, string) {
	model, blocks := d.decodeBlocks(raw)
	body := &AssistantBody{Model: model}

	var parts []string
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			body.Texts = append(body.Texts, block.Text)
			parts = append(parts, block.Text)
		case "tool_use":
			body.ToolUses = append(body.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
			name := block.Name
			if name == "" {
				name = UnknownToolName
			}
			parts = append(parts, fmt.Sprintf("[Tool used: %s]", name))
			if block.ID != "" && block.Name != "" && d.stores != nil {
				d.stores.For(handle).Record(block.ID, block.Name)
			}
			d.log.Debug("tool use", zap.String("tool", block.Name), zap.String("id", block.ID))
		}
	}
	return body, strings.Join(parts, "\n")
}

func (d *Decoder) decodeUser(handle string, raw json.RawMessage) (*UserBody, string) {
	_, blocks := d.decodeBlocks(raw)
	body := &UserBody{}

	var parts []string
	for _, block := range blocks {
		toolUseID := block.ToolUseID
		if toolUseID == "" {
			toolUseID = block.ToolUseId
		}

		switch {
		case block.Type == "tool_result" || toolUseID != "":
			content := toolResultText(block.Content)
			name, source := d.names.Resolve(ToolNameQuery{
				Handle:    handle,
				ToolUseID: toolUseID,
				Content:   content,
			})
			formatted := FormatToolResult(name, content)
			body.ToolResults = append(body.ToolResults, ToolResult{
				ToolUseID:  toolUseID,
				ToolName:   name,
				NameSource: source,
				Content:    formatted,
				IsError:    block.IsError,
			})
			parts = append(parts, fmt.Sprintf("[Tool result for %s: %s]", name, formatted))
			d.log.Debug("tool result", zap.String("tool", name), zap.String("id", toolUseID),
				zap.String("source", string(source)))
		case block.Type == "text" && block.Text != "":
			body.Texts = append(body.Texts, block.Text)
			parts = append(parts, block.Text)
		}
	}
	return body, strings.Join(parts, "\n")
}

// toolResultText flattens tool_result content, which is either a string or
// an array of {"type":"text","text":...} blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

func decodeResult(sm *streamMessage) (*ResultBody, string) {
	body := &ResultBody{
		IsError:       sm.IsError,
		Result:        rawString(sm.Result),
		CostUSD:       sm.TotalCostUSD,
		DurationMs:    toIntPtr(sm.DurationMs),
		DurationAPIMs: toIntPtr(sm.DurationAPIMs),
		NumTurns:      toIntPtr(sm.NumTurns),
	}
	if body.CostUSD == nil {
		body.CostUSD = sm.CostUSD
	}

	switch {
	case sm.Subtype == "success":
		return body, completionSummary(body)
	case sm.Subtype == "error" || strings.HasPrefix(sm.Subtype, "error_"):
		body.IsError = true
		if text := errorText(sm); text != "" {
			return body, text
		}
		if body.Result != "" {
			return body, body.Result
		}
		return body, "Result received"
	case body.Result != "":
		return body, body.Result
	default:
		return body, "Result received"
	}
}

func completionSummary(body *ResultBody) string {
	var details []string
	if body.CostUSD != nil {
		details = append(details, fmt.Sprintf("cost: $%.4f", *body.CostUSD))
	}
	if body.DurationMs != nil {
		details = append(details, fmt.Sprintf("duration: %.1fs", float64(*body.DurationMs)/1000))
	}
	if body.NumTurns != nil {
		details = append(details, fmt.Sprintf("turns: %d", *body.NumTurns))
	}
	if len(details) == 0 {
		return "Task completed"
	}
	return "Task completed (" + strings.Join(details, ", ") + ")"
}

// errorText pulls the error description out of an error result. The CLI
// has used a string, an object with a message, and an array of strings.
func errorText(sm *streamMessage) string {
	if len(sm.Error) > 0 {
		if s := rawString(sm.Error); s != "" {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(sm.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if len(sm.Errors) > 0 {
		var errs []string
		if err := json.Unmarshal(sm.Errors, &errs); err == nil && len(errs) > 0 {
			return strings.Join(errs, "; ")
		}
	}
	return ""
}

func decodeSystem(sm *streamMessage) (*SystemBody, string) {
	body := &SystemBody{
		Model:        sm.Model,
		CWD:          sm.CWD,
		Tools:        toolList(sm.Tools),
		APIKeySource: sm.APIKeySource,
	}

	if sm.Subtype == "init" {
		var details []string
		if body.Model != "" {
			details = append(details, "model: "+body.Model)
		}
		if body.CWD != "" {
			details = append(details, "cwd: "+body.CWD)
		}
		if len(body.Tools) > 0 {
			details = append(details, "tools: "+strings.Join(body.Tools, ", "))
		}
		if len(details) == 0 {
			return body, "Session initialized"
		}
		return body, "Session initialized (" + strings.Join(details, ", ") + ")"
	}

	if body.Model != "" {
		return body, body.Model
	}
	return body, "System message"
}

// extractMetadata copies the well-known optional fields. Returns nil when
// none is present.
func extractMetadata(sm *streamMessage) map[string]any {
	md := make(map[string]any)
	if sm.CWD != "" {
		md["cwd"] = sm.CWD
	}
	if tools := toolList(sm.Tools); tools != nil {
		md["tools"] = tools
	}
	if sm.APIKeySource != "" {
		md["apiKeySource"] = sm.APIKeySource
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// toolList decodes the init tool list, ignoring non-string entries.
func toolList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var tools []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			tools = append(tools, s)
		}
	}
	return tools
}

// rawString returns raw as a Go string when it holds a JSON string.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func toIntPtr(f *float64) *int {
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}
