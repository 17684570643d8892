package claude

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	validID  = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"
	validID2 = "11111111-2222-3333-4444-555555555555"
)

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{validID, true},
		{strings.ToUpper(validID), true},
		{"A1b2C3d4-E5f6-7890-AbCd-eF1234567890", true},
		{"", false},
		{"a1b2c3d4e5f67890abcdef1234567890", false},                // no dashes
		{"{a1b2c3d4-e5f6-7890-abcd-ef1234567890}", false},          // braces
		{"urn:uuid:a1b2c3d4-e5f6-7890-abcd-ef1234567890", false},   // urn form
		{"g1b2c3d4-e5f6-7890-abcd-ef1234567890", false},            // non-hex
		{"a1b2c3d4-e5f6-7890-abcd-ef12345678901", false},           // too long
		{"a1b2c3d4-e5f67-890-abcd-ef1234567890", false},            // wrong grouping
		{" a1b2c3d4-e5f6-7890-abcd-ef1234567890", false},           // padded
		{"session-a1b2c3d4-e5f6-7890-abcd-ef1234567890-x", false},  // embedded
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSessionID(tt.in))
		})
	}
}

func TestResolveSessionID_Steps(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		handle   string
		wantID   string
		wantStep ResolveStep
	}{
		{
			name:     "session field wins",
			msg:      Message{SessionID: validID, Raw: `{"session_id":"` + validID2 + `"}`},
			handle:   validID2,
			wantID:   validID,
			wantStep: StepSessionField,
		},
		{
			name:     "invalid session field falls through to handle",
			msg:      Message{SessionID: "not-a-uuid"},
			handle:   validID2,
			wantID:   validID2,
			wantStep: StepHandle,
		},
		{
			name:     "raw top-level alias",
			msg:      Message{Raw: `{"type":"x","conversationId":"` + validID + `"}`},
			handle:   "my-handle",
			wantID:   validID,
			wantStep: StepRawAliases,
		},
		{
			name:     "raw nested alias",
			msg:      Message{Raw: `{"type":"x","message":{"claude_session_id":"` + validID + `"}}`},
			handle:   "my-handle",
			wantID:   validID,
			wantStep: StepRawAliases,
		},
		{
			name:     "invalid alias does not short-circuit",
			msg:      Message{Raw: `{"session_id":"bogus","sessionId":"` + validID + `"}`},
			wantID:   validID,
			wantStep: StepRawAliases,
		},
		{
			name:     "content scan",
			msg:      Message{Raw: "plain text", Content: "resuming " + validID + " now"},
			wantID:   validID,
			wantStep: StepContent,
		},
		{
			name: "serialized scan reaches metadata",
			msg: Message{
				Raw:      "not json",
				Content:  "nothing here",
				Metadata: map[string]any{"cwd": "/tmp/" + validID},
			},
			wantID:   validID,
			wantStep: StepSerialized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, step, ok := ResolveSessionID(tt.msg, tt.handle)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantStep, step)
		})
	}
}

func TestResolveSessionID_NotFound(t *testing.T) {
	msg := Message{Kind: KindAssistant, Content: "Hello!", Raw: `{"type":"assistant"}`}
	id, step, ok := ResolveSessionID(msg, "not-a-uuid")
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, StepNone, step)
}

func TestResolveSessionID_RawAliasesForUnknownType(t *testing.T) {
	line := `{"type":"heartbeat","session_id":"a1b2c3d4-e5f6-7890-abcd-ef1234567890"}`
	msg := NewDecoder(NewToolStores(), zap.NewNop()).Decode("h", line)
	require.Equal(t, KindRaw, msg.Kind)
	require.Empty(t, msg.SessionID)

	id, step, ok := ResolveSessionID(msg, "h")
	require.True(t, ok)
	assert.Equal(t, validID, id)
	assert.Equal(t, StepRawAliases, step)
}

func TestResolveStep_String(t *testing.T) {
	assert.Equal(t, "raw-aliases", StepRawAliases.String())
	assert.Equal(t, "none", StepNone.String())
}
