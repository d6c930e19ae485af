package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNewRunID_IsUUID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("run id %q is not a uuid: %v", a, err)
	}
	if a == b {
		t.Error("run ids should differ")
	}
}

func TestRunID_Context(t *testing.T) {
	if got := RunID(context.Background()); got != "" {
		t.Errorf("empty context run id = %q", got)
	}
	ctx := WithRunID(context.Background(), "abc")
	if got := RunID(ctx); got != "abc" {
		t.Errorf("run id = %q, want abc", got)
	}
}

func TestFromHeaders(t *testing.T) {
	id := NewRunID()
	tests := []struct {
		name    string
		headers map[string]string
		keep    bool
	}{
		{"nil headers", nil, false},
		{"present", map[string]string{HeaderRunID: id}, true},
		{"not a uuid", map[string]string{HeaderRunID: "run-1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromHeaders(tt.headers)
			if tt.keep && got != id {
				t.Errorf("got %q, want %q", got, id)
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("got invalid uuid %q", got)
			}
		})
	}
}

func TestAddToHeaders(t *testing.T) {
	h := AddToHeaders(nil, "abc")
	if h[HeaderRunID] != "abc" {
		t.Errorf("header = %q", h[HeaderRunID])
	}

	existing := map[string]string{"x": "y"}
	h = AddToHeaders(existing, "def")
	if h["x"] != "y" || h[HeaderRunID] != "def" {
		t.Errorf("headers = %v", h)
	}
}
