package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/models"
)

// Definition is the schema advertised to the model for one tool.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	// UINavigation marks tools that drive the web UI; channel policy
	// strips them from surfaces that cannot render it.
	UINavigation bool
}

// Context carries per-turn identity into tool handlers.
type Context struct {
	Subject  models.Subject
	ThreadID string
	Channel  models.Channel
}

// Result is the outcome of one dispatch. Failures are values, not
// panics: the loop feeds them back to the model as error payloads.
type Result struct {
	Content string
	Err     error
}

// Payload renders the result as the tool-role message content. Errors
// become a structured payload the model can recover from; they are never
// surfaced raw to the requester.
func (r Result) Payload() string {
	if r.Err != nil {
		data, _ := json.Marshal(map[string]string{"error": r.Err.Error()})
		return string(data)
	}
	return r.Content
}

// Dispatcher invokes a named tool requested by the model.
type Dispatcher interface {
	Dispatch(ctx context.Context, call models.ToolInvocation, tctx Context) Result
}

// Handler implements one tool.
type Handler func(ctx context.Context, args json.RawMessage, tctx Context) (string, error)

// Registry holds the registered tools and dispatches calls to them.
type Registry struct {
	defs     map[string]Definition
	handlers map[string]Handler
	logger   *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a tool. Re-registering a name replaces it.
func (r *Registry) Register(def Definition, handler Handler) {
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
}

// Definitions returns all registered tool schemas in a stable order.
func (r *Registry) Definitions() []Definition {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.defs[name])
	}
	return defs
}

// Dispatch runs the named tool. Unknown names, handler errors, and
// handler panics all come back as error Results.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolInvocation, tctx Context) (result Result) {
	handler, ok := r.handlers[call.Name]
	if !ok {
		return Result{Err: fmt.Errorf("unknown tool: %s", call.Name)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"tool":  call.Name,
				"panic": rec,
			}).Error("Tool handler panicked")
			result = Result{Err: fmt.Errorf("tool %s failed", call.Name)}
		}
	}()

	content, err := handler(ctx, json.RawMessage(call.Arguments), tctx)
	if err != nil {
		r.logger.WithError(err).WithField("tool", call.Name).Warn("Tool dispatch failed")
		return Result{Err: err}
	}
	return Result{Content: content}
}
