package validator

import (
	"strings"
	"time"

	"mailprobe/internal/models"
)

// Reason strings surfaced in verification results.
const (
	ReasonInvalidSyntax = "Invalid email syntax"
	ReasonNoMailServer  = "Domain has no valid mail server"
	ReasonDisposable    = "Disposable email domain"
	ReasonCatchAll      = "catch-all domain"
	ReasonNoMailbox     = "mailbox does not exist"
	ReasonTempFailure   = "temporary mailbox failure"
	ReasonTimedOut      = "Verification timed out"
)

// TTLTimeout is the short cache window on synthetic TIMEOUT results so
// the caller can retry quickly.
const TTLTimeout = 15 * time.Minute

// Signals is the tuple of stage outcomes the scorer consumes.
type Signals struct {
	SyntaxValid bool
	DNSValid    bool
	Disposable  bool
	CatchAll    models.CatchAll
	SMTPSuccess bool
	SMTPCode    int // RCPT TO reply code; 0 when no reply was recorded
}

// Outcome is the scored verdict plus the cache TTL derived from it.
type Outcome struct {
	Score  int
	Status models.Status
	Reason string
	TTL    time.Duration
}

// Score maps stage outcomes to a verdict. It is a pure function: same
// signals, same outcome, no hidden state.
//
// The additive model runs over four buckets (syntax/DNS early exits,
// disposable, catch-all, SMTP), then the verdict is derived with the
// catch-all rule ahead of the perfect-score rule so an accept-all
// domain can never be reported DELIVERABLE.
func Score(sig Signals) Outcome {
	if !sig.SyntaxValid {
		return Outcome{Status: models.StatusUndeliverable, Reason: ReasonInvalidSyntax, TTL: ttlForScore(0)}
	}
	if !sig.DNSValid {
		return Outcome{Status: models.StatusUndeliverable, Reason: ReasonNoMailServer, TTL: ttlForScore(0)}
	}

	score := 0
	var reasons []string

	if sig.Disposable {
		score += 20
		reasons = append(reasons, ReasonDisposable)
	} else {
		score += 50
	}

	switch sig.CatchAll {
	case models.CatchAllYes:
		score += 20
		reasons = append(reasons, ReasonCatchAll)
	case models.CatchAllNo:
		score += 30
	}

	switch {
	case sig.SMTPSuccess:
		score += 50
	case sig.SMTPCode >= 500:
		reasons = append(reasons, ReasonNoMailbox)
	case sig.SMTPCode >= 400:
		score += 10
		reasons = append(reasons, ReasonTempFailure)
	}

	if score > 100 {
		score = 100
	}

	var status models.Status
	switch {
	case sig.CatchAll == models.CatchAllYes && score >= 70:
		status = models.StatusRisky
	case score == 100:
		status = models.StatusDeliverable
	case !sig.SMTPSuccess && sig.SMTPCode >= 500:
		status = models.StatusUndeliverable
		score = 0
	default:
		status = models.StatusUnknown
	}

	return Outcome{
		Score:  score,
		Status: status,
		Reason: strings.Join(reasons, ", "),
		TTL:    ttlForScore(score),
	}
}

// ttlForScore bands confidence into cache lifetimes: the surer the
// verdict, the longer it may be reused.
func ttlForScore(score int) time.Duration {
	switch {
	case score >= 90:
		return 24 * time.Hour
	case score >= 70:
		return 12 * time.Hour
	case score >= 50:
		return 6 * time.Hour
	default:
		return time.Hour
	}
}
