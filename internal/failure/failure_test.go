package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIs_MatchesKindSentinel(t *testing.T) {
	err := fmt.Errorf("outer: %w", Authentication(errors.New("401")))

	if !errors.Is(err, ErrAuthentication) {
		t.Error("expected errors.Is to match ErrAuthentication")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("did not expect errors.Is to match ErrTransport")
	}
}

func TestErrorIs_UnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Transport(cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the underlying cause")
	}
}

func TestAt_AnnotatesStageAndRole(t *testing.T) {
	err := At(Protocol(errors.New("missing value field")), StageMembers, "Global Administrator")

	msg := err.Error()
	for _, want := range []string{"protocol error", "members stage", `"Global Administrator"`, "missing value field"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if KindOf(err) != KindProtocol {
		t.Errorf("kind = %v, want protocol", KindOf(err))
	}
}

func TestAt_KeepsExistingAnnotation(t *testing.T) {
	inner := At(Transport(errors.New("timeout")), StageRoles, "")
	err := At(inner, StageMembers, "Owner")

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("expected *Error")
	}
	if fe.Stage != StageRoles {
		t.Errorf("stage = %q, want %q", fe.Stage, StageRoles)
	}
	if fe.Role != "Owner" {
		t.Errorf("role = %q, want Owner", fe.Role)
	}
}

func TestAt_ClassifiesUnknownAsTransport(t *testing.T) {
	err := At(errors.New("boom"), StageRoles, "")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected transport classification, got %v", err)
	}
	if At(nil, StageRoles, "") != nil {
		t.Error("At(nil) should be nil")
	}
}

func TestConfiguration_Message(t *testing.T) {
	err := Configuration("env var %s is not set", "GRAPH_CLIENT_ID")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatal("expected configuration kind")
	}
	if !strings.Contains(err.Error(), "GRAPH_CLIENT_ID") {
		t.Errorf("message %q should name the variable", err.Error())
	}
}
