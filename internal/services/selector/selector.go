package selector

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/middleware"
	"github.com/vendora-assistant-go/internal/models"
)

// Ledger is the quota dependency: one counted hit per resolution.
type Ledger interface {
	Hit(ctx context.Context, subject models.Subject, tier models.Tier, dailyLimit int) bool
}

// Options configure the selection heuristic. They are injected rather
// than read from package-level constants so tests can pin thresholds.
type Options struct {
	// Keywords force the top tier when found in the lowercased message.
	Keywords []string
	// ComplexityThreshold is the token estimate at which a request is
	// considered complex enough for the top tier.
	ComplexityThreshold int
	// HistoryTurns caps how many trailing history entries count toward
	// the token estimate.
	HistoryTurns int
	// VendorLimits and GuestLimits are the per-tier daily ceilings.
	VendorLimits config.TierLimits
	GuestLimits  config.TierLimits
}

// Selector resolves the capability tier for one request.
type Selector struct {
	opts    Options
	ledger  Ledger
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// New creates a selector with the given options.
func New(opts Options, ledger Ledger, metrics *middleware.Metrics, logger *logrus.Logger) *Selector {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 10
	}
	return &Selector{opts: opts, ledger: ledger, metrics: metrics, logger: logger}
}

// Resolve picks the tier for a message, in this order: keyword match or
// token volume promote to the top tier, guests are capped at the middle
// tier outright, and an exhausted daily quota downgrades exactly one
// step. The result is used verbatim as the model-selection input.
func (s *Selector) Resolve(ctx context.Context, subject models.Subject, message string, history []models.ChatMessage) models.Tier {
	total := estimateTokens(message)
	start := len(history) - s.opts.HistoryTurns
	if start < 0 {
		start = 0
	}
	for _, m := range history[start:] {
		total += estimateTokens(m.Content)
	}

	ideal := models.TierMini
	reason := "default"
	switch {
	case s.matchesKeyword(message):
		ideal = models.TierFull
		reason = "keyword"
	case total >= s.opts.ComplexityThreshold:
		ideal = models.TierFull
		reason = "token_volume"
	}

	// Guests never reach the top tier, quota or not.
	if subject.Guest && ideal == models.TierFull {
		ideal = models.TierMini
		reason = "guest_ceiling"
	}

	resolved := ideal
	if s.ledger.Hit(ctx, subject, ideal, s.limitFor(subject, ideal)) {
		resolved = ideal.StepDown()
		reason = "quota_exhausted"
		s.metrics.RecordQuotaExhausted(string(ideal), subjectClass(subject))
	}

	s.logger.WithFields(logrus.Fields{
		"subject": subject.QuotaKey(),
		"tier":    resolved,
		"ideal":   ideal,
		"tokens":  total,
		"reason":  reason,
	}).Debug("Resolved model tier")

	return resolved
}

func (s *Selector) matchesKeyword(message string) bool {
	lowered := strings.ToLower(message)
	for _, kw := range s.opts.Keywords {
		if kw != "" && strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func subjectClass(subject models.Subject) string {
	if subject.Guest {
		return "guest"
	}
	return "vendor"
}

func (s *Selector) limitFor(subject models.Subject, tier models.Tier) int {
	if subject.Guest {
		return s.opts.GuestLimits.Limit(string(tier))
	}
	return s.opts.VendorLimits.Limit(string(tier))
}

// estimateTokens is a cheap length heuristic: roughly four bytes per
// token for western text, which is plenty for a routing decision.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
