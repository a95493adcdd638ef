package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfUnwrapsChains(t *testing.T) {
	base := New(CodeNotFound, "stream %s missing", "abc")
	wrapped := fmt.Errorf("handling request: %w", base)

	code, ok := CodeOf(wrapped)
	if !ok {
		t.Fatalf("expected coded error in chain")
	}
	if code != CodeNotFound {
		t.Fatalf("expected %s, got %s", CodeNotFound, code)
	}
	if !IsCode(wrapped, CodeNotFound) {
		t.Fatalf("IsCode should match through wrapping")
	}
	if IsCode(wrapped, CodeUnauthorized) {
		t.Fatalf("IsCode matched the wrong code")
	}
}

func TestRecoverableFlag(t *testing.T) {
	err := Recoverable(CodeAlreadyBroadcasting, "stream is already live")
	if !IsRecoverable(err) {
		t.Fatalf("expected recoverable error")
	}
	if IsRecoverable(New(CodeCapacityExceeded, "full")) {
		t.Fatalf("capacity errors are not recoverable")
	}
	if IsRecoverable(errors.New("plain")) {
		t.Fatalf("plain errors carry no recoverable flag")
	}
}

func TestExternalPreservesCause(t *testing.T) {
	cause := errors.New("502 Bad Gateway")
	err := External(cause, "start egress for room %s", "room-1")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to survive wrapping")
	}
	if !IsCode(err, CodeExternalService) {
		t.Fatalf("expected EXTERNAL_SERVICE_ERROR code")
	}
}
