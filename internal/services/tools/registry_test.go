package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/models"
)

func testRegistry() *Registry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewRegistry(logger)
}

func TestDispatchUnknownTool(t *testing.T) {
	r := testRegistry()

	res := r.Dispatch(context.Background(), models.ToolInvocation{Name: "nope"}, Context{})
	if res.Err == nil {
		t.Fatal("unknown tool must produce an error result")
	}
	if !strings.Contains(res.Payload(), "error") {
		t.Fatalf("error payload must be structured, got %q", res.Payload())
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r := testRegistry()
	r.Register(Definition{Name: "boom"}, func(context.Context, json.RawMessage, Context) (string, error) {
		return "", errors.New("downstream unavailable")
	})

	res := r.Dispatch(context.Background(), models.ToolInvocation{Name: "boom"}, Context{})
	if res.Err == nil {
		t.Fatal("handler error must come back as a result, not a panic")
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(res.Payload()), &payload); err != nil {
		t.Fatalf("payload must be valid JSON: %v", err)
	}
	if payload["error"] != "downstream unavailable" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	r := testRegistry()
	r.Register(Definition{Name: "panicky"}, func(context.Context, json.RawMessage, Context) (string, error) {
		panic("nil map write")
	})

	res := r.Dispatch(context.Background(), models.ToolInvocation{Name: "panicky"}, Context{})
	if res.Err == nil {
		t.Fatal("panicking handler must produce an error result")
	}
}

func TestDefinitionsStableOrder(t *testing.T) {
	r := testRegistry()
	noop := func(context.Context, json.RawMessage, Context) (string, error) { return "", nil }
	r.Register(Definition{Name: "zeta"}, noop)
	r.Register(Definition{Name: "alpha"}, noop)

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("definitions must be sorted by name, got %v", defs)
	}
}

func TestResultPayloadPassesContentThrough(t *testing.T) {
	res := Result{Content: `{"ok":true}`}
	if res.Payload() != `{"ok":true}` {
		t.Fatalf("unexpected payload: %q", res.Payload())
	}
}
