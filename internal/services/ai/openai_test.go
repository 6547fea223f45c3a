package ai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewOpenAIClient(&config.ModelsConfig{
		BaseURL:    server.URL + "/v1",
		APIKey:     "test",
		Tiers:      config.TierModels{Nano: "m-nano", Mini: "m-mini", Full: "m-full"},
		MaxTokens:  64,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	}, logger)
}

func TestCompleteDecodesFinalContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"You have two bookings."}}]}`))
	})

	comp, err := client.Complete(context.Background(), models.TierMini,
		[]Message{{Role: RoleUser, Content: "What's my schedule?"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Kind != KindFinal {
		t.Fatalf("expected final completion, got kind %d", comp.Kind)
	}
	if comp.Content != "You have two bookings." {
		t.Fatalf("unexpected content: %q", comp.Content)
	}
}

func TestCompleteDecodesToolCalls(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_schedule","arguments":"{\"date\":\"2026-08-29\"}"}}
		]}}]}`))
	})

	comp, err := client.Complete(context.Background(), models.TierFull,
		[]Message{{Role: RoleUser, Content: "schedule?"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comp.Kind != KindToolRequested {
		t.Fatalf("expected tool-requested completion, got kind %d", comp.Kind)
	}
	if len(comp.ToolCalls) != 1 || comp.ToolCalls[0].Name != "get_schedule" || comp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool calls: %+v", comp.ToolCalls)
	}
}

func TestCompleteTreatsNoChoicesAsEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	})

	comp, err := client.Complete(context.Background(), models.TierNano,
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("empty choices must not be an error: %v", err)
	}
	if comp.Kind != KindEmpty {
		t.Fatalf("expected empty completion, got kind %d", comp.Kind)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	})

	_, err := client.Complete(context.Background(), models.TierMini,
		[]Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected an error for a 4xx response")
	}
	if calls != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls)
	}
}

func TestModelForMapsTiers(t *testing.T) {
	client := newTestClient(t, nil)

	cases := map[models.Tier]string{
		models.TierNano: "m-nano",
		models.TierMini: "m-mini",
		models.TierFull: "m-full",
	}
	for tier, want := range cases {
		if got := client.ModelFor(tier); got != want {
			t.Errorf("ModelFor(%s) = %q, want %q", tier, got, want)
		}
	}
}
