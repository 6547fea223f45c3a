// Package conversation drives one assistant turn end to end: thread
// lookup, tier selection, the bounded model/tool loop, and atomic
// persistence of the finished turn.
package conversation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/i18n"
	"github.com/vendora-assistant-go/internal/middleware"
	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/ai"
	"github.com/vendora-assistant-go/internal/services/policy"
	"github.com/vendora-assistant-go/internal/services/threads"
	"github.com/vendora-assistant-go/internal/services/tools"
)

// Reply statuses surfaced to callers.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Selector resolves the capability tier for one request.
type Selector interface {
	Resolve(ctx context.Context, subject models.Subject, message string, history []models.ChatMessage) models.Tier
}

// Request is one inbound message for the engine.
type Request struct {
	Subject     models.Subject
	Counterpart *models.Counterpart
	Channel     models.Channel
	Text        string
}

// Reply is the caller-facing outcome of a turn. Error replies carry a
// generic localized message; technical detail is logged only.
type Reply struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	ThreadID string      `json:"thread_id,omitempty"`
	Tier     models.Tier `json:"tier,omitempty"`
}

// Engine orchestrates the model call → tool dispatch → model call loop.
type Engine struct {
	threads    threads.Store
	selector   Selector
	llm        ai.Client
	dispatcher tools.Dispatcher
	registry   []tools.Definition
	localizer  *i18n.Localizer
	metrics    *middleware.Metrics
	logger     *logrus.Logger

	systemPrompt  string
	maxIterations int
	maxHistory    int
	toolTimeout   time.Duration
}

// NewEngine creates the turn engine.
func NewEngine(
	cfg *config.AssistantConfig,
	store threads.Store,
	sel Selector,
	llm ai.Client,
	dispatcher tools.Dispatcher,
	registry []tools.Definition,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		threads:       store,
		selector:      sel,
		llm:           llm,
		dispatcher:    dispatcher,
		registry:      registry,
		localizer:     localizer,
		metrics:       metrics,
		logger:        logger,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		maxHistory:    cfg.MaxHistoryMessages,
		toolTimeout:   cfg.ToolTimeout,
	}
}

// HandleMessage runs one conversational turn to completion. It always
// returns a Reply: failures inside the turn are absorbed into an error
// status with a user-safe message, never a panic or a half-written turn.
func (e *Engine) HandleMessage(ctx context.Context, req *Request) *Reply {
	started := time.Now()
	log := e.logger.WithFields(logrus.Fields{
		"subject": req.Subject.QuotaKey(),
		"channel": req.Channel,
	})

	thread, err := e.threads.GetOrCreate(ctx, req.Subject.ID, req.Counterpart, req.Channel)
	if err != nil {
		log.WithError(err).Error("Failed to resolve thread")
		return e.errorReply(req, started)
	}
	log = log.WithField("thread_id", thread.ID)

	history, err := e.threads.History(ctx, thread.ID, e.maxHistory)
	if err != nil {
		log.WithError(err).Error("Failed to load thread history")
		return e.errorReply(req, started)
	}

	tier := e.selector.Resolve(ctx, req.Subject, req.Text, history)
	pol := policy.ForChannel(req.Channel, e.registry)

	messages := e.assembleContext(pol.PromptFragment, history, req.Text)

	final, toolAudit, ok := e.runLoop(ctx, log, req, thread.ID, tier, pol.Tools, messages)
	if !ok {
		return e.errorReply(req, started)
	}

	if err := e.threads.SaveTurn(ctx, thread.ID, req.Text, final, toolAudit); err != nil {
		log.WithError(err).Error("Failed to persist turn")
		return e.errorReply(req, started)
	}

	e.metrics.RecordTurn(string(req.Channel), StatusSuccess, time.Since(started))
	log.WithFields(logrus.Fields{
		"tier":       tier,
		"tool_calls": len(toolAudit),
	}).Info("Turn completed")

	return &Reply{Status: StatusSuccess, Message: final, ThreadID: thread.ID, Tier: tier}
}

// runLoop executes the bounded completion loop. It returns the final
// assistant text, the audit list of tool calls, and whether the loop
// reached a persistable outcome.
func (e *Engine) runLoop(
	ctx context.Context,
	log *logrus.Entry,
	req *Request,
	threadID string,
	tier models.Tier,
	allowed []tools.Definition,
	messages []ai.Message,
) (string, []models.ToolInvocation, bool) {
	var toolAudit []models.ToolInvocation
	var final string
	done := false

	iterations := 0
	for i := 0; i < e.maxIterations && !done; i++ {
		iterations++

		completion, err := e.llm.Complete(ctx, tier, messages, allowed)
		if err != nil {
			e.metrics.RecordModelRequest(string(tier), StatusError)
			log.WithError(err).WithField("iteration", iterations).Error("Completion request failed")
			return "", nil, false
		}
		e.metrics.RecordModelRequest(string(tier), StatusSuccess)

		switch completion.Kind {
		case ai.KindToolRequested:
			messages = append(messages, ai.Message{
				Role:      ai.RoleAssistant,
				ToolCalls: completion.ToolCalls,
			})
			for _, call := range completion.ToolCalls {
				payload := e.dispatch(ctx, log, req, threadID, call)
				call.Result = payload
				toolAudit = append(toolAudit, call)
				messages = append(messages, ai.Message{
					Role:       ai.RoleTool,
					Content:    payload,
					ToolCallID: call.ID,
				})
			}

		case ai.KindEmpty:
			final = e.localize(req.Subject, i18n.MsgEmptyResponse)
			done = true

		default: // ai.KindFinal
			final = completion.Content
			done = true
		}
	}

	e.metrics.RecordLoopIterations(iterations)

	if !done {
		// The model kept requesting tools past the bound. Answer with a
		// fallback instead of looping forever.
		log.WithField("iterations", iterations).Warn("Iteration bound exceeded, forcing fallback answer")
		final = e.localize(req.Subject, i18n.MsgIterationFallback)
	}

	return final, toolAudit, true
}

// dispatch runs one tool call with its own timeout. Failures become an
// error payload the model sees on the next iteration; they are never
// surfaced raw to the requester.
func (e *Engine) dispatch(ctx context.Context, log *logrus.Entry, req *Request, threadID string, call models.ToolInvocation) string {
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}

	result := e.dispatcher.Dispatch(ctx, call, tools.Context{
		Subject:  req.Subject,
		ThreadID: threadID,
		Channel:  req.Channel,
	})

	status := StatusSuccess
	if result.Err != nil {
		status = StatusError
		log.WithError(result.Err).WithField("tool", call.Name).Warn("Tool dispatch failed, feeding error back to model")
	}
	e.metrics.RecordToolDispatch(call.Name, status)

	return result.Payload()
}

// NewConversation rotates the active thread for the key: the old thread
// is deactivated with its messages retained, and a fresh one is created.
func (e *Engine) NewConversation(ctx context.Context, subject models.Subject, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error) {
	return e.threads.NewConversation(ctx, subject.ID, counterpart, channel)
}

func (e *Engine) assembleContext(promptFragment string, history []models.ChatMessage, text string) []ai.Message {
	messages := make([]ai.Message, 0, len(history)+2)

	system := e.systemPrompt
	if promptFragment != "" {
		system += "\n\n" + promptFragment
	}
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: system})

	for _, m := range history {
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}

	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: text})
	return messages
}

func (e *Engine) errorReply(req *Request, started time.Time) *Reply {
	e.metrics.RecordTurn(string(req.Channel), StatusError, time.Since(started))
	return &Reply{
		Status:  StatusError,
		Message: e.localize(req.Subject, i18n.MsgGenericError),
	}
}

func (e *Engine) localize(subject models.Subject, messageID string) string {
	return e.localizer.Get(subject.Language, messageID, nil)
}
