package claude

import (
	"encoding/json"
	"regexp"

	"github.com/google/uuid"
)

// sessionIDLen is the length of a canonical 8-4-4-4-12 conversation id.
const sessionIDLen = 36

var (
	sessionIDExact = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	sessionIDScan  = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// sessionIDAliases are the field names the CLI and its wrappers have used for
// the conversation id, probed in order.
var sessionIDAliases = []string{
	"session_id",
	"sessionId",
	"sessionID",
	"conversation_id",
	"conversationId",
	"claude_session_id",
}

// ResolveStep identifies which fallback produced a conversation id.
type ResolveStep int

const (
	StepNone           ResolveStep = iota
	StepSessionField               // Message.SessionID
	StepHandle                     // the caller's session handle
	StepRawAliases                 // a known alias in the raw JSON line
	StepContent                    // a pattern match in the display content
	StepSerialized                 // a pattern match anywhere in the serialized message
)

func (s ResolveStep) String() string {
	switch s {
	case StepSessionField:
		return "session-field"
	case StepHandle:
		return "handle"
	case StepRawAliases:
		return "raw-aliases"
	case StepContent:
		return "content"
	case StepSerialized:
		return "serialized"
	default:
		return "none"
	}
}

// ValidSessionID reports whether s is a canonical conversation id: exactly 36
// characters in 8-4-4-4-12 hex grouping, any case.
func ValidSessionID(s string) bool {
	if len(s) != sessionIDLen || !sessionIDExact.MatchString(s) {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ResolveSessionID extracts the external conversation id for msg, trying
// each source in priority order and returning the first valid candidate.
// ok is false when no source carries one, which is normal for most lines.
func ResolveSessionID(msg Message, handle string) (id string, step ResolveStep, ok bool) {
	if ValidSessionID(msg.SessionID) {
		return msg.SessionID, StepSessionField, true
	}
	if ValidSessionID(handle) {
		return handle, StepHandle, true
	}
	if id, ok := sessionIDFromRaw(msg.Raw); ok {
		return id, StepRawAliases, true
	}
	if id, ok := scanSessionID(msg.Content); ok {
		return id, StepContent, true
	}
	if data, err := json.Marshal(msg); err == nil {
		if id, ok := scanSessionID(string(data)); ok {
			return id, StepSerialized, true
		}
	}
	return "", StepNone, false
}

// sessionIDFromRaw probes the aliases at the top level of the raw JSON line,
// then under its "message" object.
func sessionIDFromRaw(raw string) (string, bool) {
	var top map[string]any
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return "", false
	}
	if id, ok := probeAliases(top); ok {
		return id, true
	}
	if nested, isObj := top["message"].(map[string]any); isObj {
		return probeAliases(nested)
	}
	return "", false
}

func probeAliases(obj map[string]any) (string, bool) {
	for _, key := range sessionIDAliases {
		if s, isStr := obj[key].(string); isStr && ValidSessionID(s) {
			return s, true
		}
	}
	return "", false
}

func scanSessionID(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, candidate := range sessionIDScan.FindAllString(s, -1) {
		if ValidSessionID(candidate) {
			return candidate, true
		}
	}
	return "", false
}
