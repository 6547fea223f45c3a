package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/i18n"
	"github.com/vendora-assistant-go/internal/middleware"
	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/ai"
	"github.com/vendora-assistant-go/internal/services/threads"
	"github.com/vendora-assistant-go/internal/services/tools"
)

// scriptedClient plays back a fixed sequence of completions and records
// what the engine sent on each call.
type scriptedClient struct {
	script []scriptStep
	calls  []completionCall
}

type scriptStep struct {
	completion *ai.Completion
	err        error
}

type completionCall struct {
	tier     models.Tier
	messages []ai.Message
	defs     []tools.Definition
}

func (c *scriptedClient) Complete(_ context.Context, tier models.Tier, messages []ai.Message, defs []tools.Definition) (*ai.Completion, error) {
	snapshot := make([]ai.Message, len(messages))
	copy(snapshot, messages)
	c.calls = append(c.calls, completionCall{tier: tier, messages: snapshot, defs: defs})

	idx := len(c.calls) - 1
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	step := c.script[idx]
	return step.completion, step.err
}

// loopingClient always requests the same tool call, never finishing.
type loopingClient struct {
	calls int
}

func (c *loopingClient) Complete(context.Context, models.Tier, []ai.Message, []tools.Definition) (*ai.Completion, error) {
	c.calls++
	return &ai.Completion{
		Kind: ai.KindToolRequested,
		ToolCalls: []models.ToolInvocation{
			{ID: "call_loop", Name: "get_schedule", Arguments: "{}"},
		},
	}, nil
}

// stubDispatcher returns canned results by tool name and records calls.
type stubDispatcher struct {
	results map[string]tools.Result
	calls   []models.ToolInvocation
}

func (d *stubDispatcher) Dispatch(_ context.Context, call models.ToolInvocation, _ tools.Context) tools.Result {
	d.calls = append(d.calls, call)
	if r, ok := d.results[call.Name]; ok {
		return r
	}
	return tools.Result{Content: "{}"}
}

type fixedSelector struct {
	tier models.Tier
}

func (s fixedSelector) Resolve(context.Context, models.Subject, string, []models.ChatMessage) models.Tier {
	return s.tier
}

// failingSaveStore forces the persistence path to fail.
type failingSaveStore struct {
	*threads.MemoryStore
}

func (s *failingSaveStore) SaveTurn(context.Context, string, string, string, []models.ToolInvocation) error {
	return errors.New("connection reset")
}

func testLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()
	loc, err := i18n.NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "en",
		Directory:       "../../../configs/i18n",
		Languages:       []string{"en", "es"},
	})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}
	return loc
}

func testRegistry() []tools.Definition {
	return []tools.Definition{
		{Name: "get_schedule", Description: "Read the calendar", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "open_booking_form", Description: "Open the booking form", Parameters: json.RawMessage(`{"type":"object"}`), UINavigation: true},
	}
}

func newTestEngine(t *testing.T, store threads.Store, llm ai.Client, dispatcher tools.Dispatcher) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.AssistantConfig{
		SystemPrompt:       "You are the vendor's assistant.",
		MaxIterations:      5,
		MaxHistoryMessages: 20,
		ToolTimeout:        time.Second,
	}
	return NewEngine(cfg, store, fixedSelector{tier: models.TierMini}, llm, dispatcher,
		testRegistry(), testLocalizer(t), middleware.NewMetrics(), logger)
}

func vendorRequest(text string) *Request {
	return &Request{
		Subject: models.Subject{ID: "vendor-1", Language: "en"},
		Counterpart: &models.Counterpart{
			Kind:        models.CounterpartClient,
			ID:          "client-9",
			DisplayName: "Dana",
		},
		Channel: models.ChannelWeb,
		Text:    text,
	}
}

func TestHandleMessagePlainAnswer(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "Your next appointment is at 3pm."}},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	reply := engine.HandleMessage(context.Background(), vendorRequest("When is my next appointment?"))

	if reply.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q", reply.Status, StatusSuccess)
	}
	if reply.Message != "Your next appointment is at 3pm." {
		t.Errorf("message = %q", reply.Message)
	}
	if reply.Tier != models.TierMini {
		t.Errorf("tier = %q, want mini", reply.Tier)
	}
	if got := store.MessageCount(reply.ThreadID); got != 2 {
		t.Errorf("persisted %d messages, want 2", got)
	}

	msgs := store.Messages(reply.ThreadID)
	if msgs[0].Role != models.RoleRequester || msgs[1].Role != models.RoleAssistant {
		t.Errorf("persisted roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestHandleMessageIncludesHistoryAndSystemPrompt(t *testing.T) {
	store := threads.NewMemoryStore()
	ctx := context.Background()

	cp := &models.Counterpart{Kind: models.CounterpartClient, ID: "client-9", DisplayName: "Dana"}
	thread, err := store.GetOrCreate(ctx, "vendor-1", cp, models.ChannelWeb)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.SaveTurn(ctx, thread.ID, "Hi", "Hello! How can I help?", nil); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}

	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "Sure."}},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})
	engine.HandleMessage(ctx, vendorRequest("Book them in for Friday"))

	sent := llm.calls[0].messages
	// system + 2 history + new text
	if len(sent) != 4 {
		t.Fatalf("sent %d messages, want 4", len(sent))
	}
	if sent[0].Role != ai.RoleSystem || !strings.Contains(sent[0].Content, "vendor's assistant") {
		t.Errorf("first message is not the system prompt: %+v", sent[0])
	}
	if sent[1].Role != ai.RoleUser || sent[1].Content != "Hi" {
		t.Errorf("history requester turn = %+v", sent[1])
	}
	if sent[2].Role != ai.RoleAssistant {
		t.Errorf("history assistant turn = %+v", sent[2])
	}
	if sent[3].Content != "Book them in for Friday" {
		t.Errorf("last message = %+v", sent[3])
	}
}

func TestHandleMessageToolRoundTrip(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{
			Kind: ai.KindToolRequested,
			ToolCalls: []models.ToolInvocation{
				{ID: "call_1", Name: "get_schedule", Arguments: `{"date":"2026-08-29"}`},
			},
		}},
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "You are free all afternoon."}},
	}}
	dispatcher := &stubDispatcher{results: map[string]tools.Result{
		"get_schedule": {Content: `{"slots":[]}`},
	}}
	engine := newTestEngine(t, store, llm, dispatcher)

	reply := engine.HandleMessage(context.Background(), vendorRequest("Am I free this afternoon?"))

	if reply.Status != StatusSuccess || reply.Message != "You are free all afternoon." {
		t.Fatalf("reply = %+v", reply)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].Name != "get_schedule" {
		t.Fatalf("dispatched %+v", dispatcher.calls)
	}

	// Second completion call must see the tool result in context.
	second := llm.calls[1].messages
	last := second[len(second)-1]
	if last.Role != ai.RoleTool || last.ToolCallID != "call_1" || last.Content != `{"slots":[]}` {
		t.Errorf("tool feedback message = %+v", last)
	}

	// The assistant side of the persisted turn carries the audit record.
	msgs := store.Messages(reply.ThreadID)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	audit := msgs[1].ToolCalls
	if len(audit) != 1 || audit[0].Name != "get_schedule" || audit[0].Result != `{"slots":[]}` {
		t.Errorf("audit = %+v", audit)
	}
}

func TestHandleMessageProviderErrorPersistsNothing(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{err: errors.New("upstream: 503")},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	reply := engine.HandleMessage(context.Background(), vendorRequest("hello"))

	if reply.Status != StatusError {
		t.Fatalf("status = %q, want %q", reply.Status, StatusError)
	}
	if strings.Contains(reply.Message, "503") {
		t.Errorf("provider detail leaked into user message: %q", reply.Message)
	}

	ctx := context.Background()
	cp := &models.Counterpart{Kind: models.CounterpartClient, ID: "client-9"}
	thread, err := store.GetOrCreate(ctx, "vendor-1", cp, models.ChannelWeb)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got := store.MessageCount(thread.ID); got != 0 {
		t.Errorf("persisted %d messages after provider failure, want 0", got)
	}
}

func TestHandleMessageEmptyResponseUsesDefault(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{Kind: ai.KindEmpty}},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	reply := engine.HandleMessage(context.Background(), vendorRequest("???"))

	if reply.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q", reply.Status, StatusSuccess)
	}
	if !strings.Contains(reply.Message, "rephrase") {
		t.Errorf("message = %q, want the default empty-response text", reply.Message)
	}
	if got := store.MessageCount(reply.ThreadID); got != 2 {
		t.Errorf("persisted %d messages, want 2", got)
	}
}

func TestHandleMessageToolErrorFedBackToModel(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{
			Kind: ai.KindToolRequested,
			ToolCalls: []models.ToolInvocation{
				{ID: "call_1", Name: "create_payment_link", Arguments: `{"amount":-5}`},
			},
		}},
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "The amount must be positive."}},
	}}
	dispatcher := &stubDispatcher{results: map[string]tools.Result{
		"create_payment_link": {Err: errors.New("amount must be positive")},
	}}
	engine := newTestEngine(t, store, llm, dispatcher)

	reply := engine.HandleMessage(context.Background(), vendorRequest("Make a -5 payment link"))

	if reply.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q: dispatch errors must not abort the turn", reply.Status, StatusSuccess)
	}

	second := llm.calls[1].messages
	last := second[len(second)-1]
	if last.Role != ai.RoleTool {
		t.Fatalf("last message role = %q, want tool", last.Role)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(last.Content), &payload); err != nil {
		t.Fatalf("tool error payload is not JSON: %q", last.Content)
	}
	if payload["error"] != "amount must be positive" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHandleMessageIterationBound(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &loopingClient{}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	reply := engine.HandleMessage(context.Background(), vendorRequest("loop forever"))

	if llm.calls != 5 {
		t.Errorf("model called %d times, want exactly 5", llm.calls)
	}
	if reply.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q", reply.Status, StatusSuccess)
	}
	if !strings.Contains(reply.Message, "simpler") {
		t.Errorf("message = %q, want the fallback text", reply.Message)
	}
	// The fallback turn still persists, with the full audit trail.
	msgs := store.Messages(reply.ThreadID)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if len(msgs[1].ToolCalls) != 5 {
		t.Errorf("audit has %d calls, want 5", len(msgs[1].ToolCalls))
	}
}

func TestHandleMessagePersistenceFailure(t *testing.T) {
	store := &failingSaveStore{MemoryStore: threads.NewMemoryStore()}
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "done"}},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	reply := engine.HandleMessage(context.Background(), vendorRequest("hello"))

	if reply.Status != StatusError {
		t.Errorf("status = %q, want %q", reply.Status, StatusError)
	}
	if strings.Contains(reply.Message, "connection reset") {
		t.Errorf("storage detail leaked into user message: %q", reply.Message)
	}
}

func TestHandleMessageConstrainedChannelHidesUITools(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "ok"}},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	req := vendorRequest("show me the booking form")
	req.Channel = models.ChannelTelegram
	engine.HandleMessage(context.Background(), req)

	for _, def := range llm.calls[0].defs {
		if def.UINavigation {
			t.Errorf("UI-navigation tool %q offered on telegram", def.Name)
		}
	}
	system := llm.calls[0].messages[0]
	if !strings.Contains(system.Content, "forms") {
		t.Errorf("system prompt missing the channel fragment: %q", system.Content)
	}
}

func TestNewConversationRotatesThread(t *testing.T) {
	store := threads.NewMemoryStore()
	llm := &scriptedClient{script: []scriptStep{
		{completion: &ai.Completion{Kind: ai.KindFinal, Content: "hi"}},
	}}
	engine := newTestEngine(t, store, llm, &stubDispatcher{})

	reply := engine.HandleMessage(context.Background(), vendorRequest("hello"))

	subject := models.Subject{ID: "vendor-1", Language: "en"}
	cp := &models.Counterpart{Kind: models.CounterpartClient, ID: "client-9", DisplayName: "Dana"}
	fresh, err := engine.NewConversation(context.Background(), subject, cp, models.ChannelWeb)
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	if fresh.ID == reply.ThreadID {
		t.Error("NewConversation returned the old thread")
	}

	old, ok := store.Thread(reply.ThreadID)
	if !ok || old.Active {
		t.Error("old thread should be retained but inactive")
	}
	if got := store.MessageCount(reply.ThreadID); got != 2 {
		t.Errorf("old thread lost messages: %d", got)
	}
}
