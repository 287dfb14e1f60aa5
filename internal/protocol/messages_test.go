package protocol

import (
	"errors"
	"testing"
)

func TestParseClientControlActions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"play", `{"type":"client_control","action":"play"}`, true},
		{"pause", `{"type":"client_control","action":"pause"}`, true},
		{"seek", `{"type":"client_control","action":"seek","seconds":2.5}`, true},
		{"play_segment", `{"type":"client_control","action":"play_segment","index":2}`, true},
		{"play_from_offset", `{"type":"client_control","action":"play_from_offset","offset":17}`, true},
		{"negative seek", `{"type":"client_control","action":"seek","seconds":-1}`, false},
		{"negative index", `{"type":"client_control","action":"play_segment","index":-2}`, false},
		{"missing action", `{"type":"client_control"}`, false},
		{"unknown action", `{"type":"client_control","action":"rewind"}`, false},
	}

	for _, tc := range tests {
		msg, err := ParseClientMessage([]byte(tc.raw))
		if tc.ok && err != nil {
			t.Fatalf("%s: ParseClientMessage() error = %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: ParseClientMessage() = %+v, want error", tc.name, msg)
		}
		if tc.ok {
			if _, isControl := msg.(ClientControl); !isControl {
				t.Fatalf("%s: message type %T, want ClientControl", tc.name, msg)
			}
		}
	}
}

func TestParseClientMessageRejectsUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"playback_state"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte("not json")); err == nil {
		t.Fatalf("ParseClientMessage() = nil error for garbage")
	}
}
