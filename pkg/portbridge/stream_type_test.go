package portbridge

import (
	"errors"
	"testing"
)

func TestParseStreamType(t *testing.T) {
	for _, st := range AllStreamTypes() {
		parsed, err := ParseStreamType(st.String())
		if err != nil || parsed != st {
			t.Errorf("Expected %q to parse back to %d, got %d (%v)", st, st, parsed, err)
		}
	}

	if st, err := ParseStreamType(" Voice_Call "); err != nil || st != StreamVoiceCall {
		t.Errorf("Expected case and space insensitive parse, got %v (%v)", st, err)
	}

	if _, err := ParseStreamType("karaoke"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected unknown stream type to fail with ErrInvalidArgument, got %v", err)
	}
}

func TestStreamTypeValid(t *testing.T) {
	if StreamType(-1).Valid() || StreamType(len(streamTypeNames)).Valid() {
		t.Error("Out-of-range stream types reported valid")
	}
	if StreamType(-1).Role() != "" {
		t.Error("Invalid stream type has a role")
	}
	if StreamVoiceCall.Role() != "phone" {
		t.Errorf("Expected voice calls to carry the phone role, got %q", StreamVoiceCall.Role())
	}
}
