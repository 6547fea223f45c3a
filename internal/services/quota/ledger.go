package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/models"
)

// Ledger tracks per-subject daily usage by capability tier. Counters live
// in an external Counter store and expire at the subject's local midnight.
type Ledger struct {
	counter Counter
	logger  *logrus.Logger
	now     func() time.Time
}

// NewLedger creates a ledger over the given counter store.
func NewLedger(counter Counter, logger *logrus.Logger) *Ledger {
	return &Ledger{
		counter: counter,
		logger:  logger,
		now:     time.Now,
	}
}

// Hit counts one use of tier by subject and reports whether the subject
// has exhausted the daily limit. The call that lands exactly on the limit
// is still allowed; the one after it (and every later call that day) is
// exhausted.
//
// If the counter store is unreachable, Hit fails open: availability of
// the assistant outranks strict quota enforcement.
func (l *Ledger) Hit(ctx context.Context, subject models.Subject, tier models.Tier, dailyLimit int) bool {
	loc := l.location(subject)
	localNow := l.now().In(loc)

	key := fmt.Sprintf("quota:%s:%s:%s", subject.QuotaKey(), tier, localNow.Format("2006-01-02"))
	ttl := untilMidnight(localNow)

	count, err := l.counter.Incr(ctx, key, ttl)
	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"key":  key,
			"tier": tier,
		}).Warn("Quota counter unavailable, failing open")
		return false
	}

	exhausted := count > int64(dailyLimit)
	if exhausted {
		l.logger.WithFields(logrus.Fields{
			"subject": subject.QuotaKey(),
			"tier":    tier,
			"count":   count,
			"limit":   dailyLimit,
		}).Info("Daily quota exhausted")
	}

	return exhausted
}

// location resolves the subject's timezone. Guests have no stored zone and
// always count against server time.
func (l *Ledger) location(subject models.Subject) *time.Location {
	if subject.Guest || subject.Timezone == "" {
		return time.Local
	}

	loc, err := time.LoadLocation(subject.Timezone)
	if err != nil {
		l.logger.WithError(err).WithField("timezone", subject.Timezone).Warn("Invalid subject timezone, using server time")
		return time.Local
	}
	return loc
}

// untilMidnight returns the remaining duration to the next local midnight.
func untilMidnight(localNow time.Time) time.Duration {
	next := time.Date(localNow.Year(), localNow.Month(), localNow.Day()+1, 0, 0, 0, 0, localNow.Location())
	return next.Sub(localNow)
}
