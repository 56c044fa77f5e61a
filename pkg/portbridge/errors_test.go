package portbridge

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{nil, Success},
		{ErrArgumentParse, CodeArgumentParse},
		{fmt.Errorf("init module: %w", ErrPortOpen), CodePortOpen},
		{fmt.Errorf("close: %w", fmt.Errorf("port 3: %w", ErrInvalidHandle)), CodeInvalidHandle},
		{fmt.Errorf("load: %w: %w", ErrNotConnected, errors.New("eof")), CodeNotConnected},
		{ErrInvalidArgument, CodeInvalidArgument},
		{errors.New("something else"), CodeBackend},
	}

	for _, c := range cases {
		if got := CodeOf(c.err); got != c.code {
			t.Errorf("CodeOf(%v): expected %v, got %v", c.err, c.code, got)
		}
	}
}

func TestErrorCodesAreDistinctFromSuccess(t *testing.T) {
	if Success != 0 {
		t.Fatalf("Success must be zero, got %d", Success)
	}

	seen := map[ErrorCode]bool{}
	for _, err := range []error{ErrArgumentParse, ErrPortOpen, ErrInvalidHandle, ErrNotConnected, ErrInvalidArgument, ErrBackend} {
		code := CodeOf(err)
		if code == Success {
			t.Errorf("%v maps to Success", err)
		}
		if seen[code] {
			t.Errorf("%v shares code %v with another error", err, code)
		}
		seen[code] = true
	}
}

func TestInitStatus(t *testing.T) {
	if InitStatus(nil) != 0 {
		t.Error("Expected status 0 for success")
	}
	if InitStatus(ErrPortOpen) != -1 {
		t.Error("Expected status -1 for failure")
	}
}
