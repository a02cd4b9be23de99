package validator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"mailprobe/internal/cache"
	"mailprobe/internal/config"
	"mailprobe/internal/models"
)

// Blocklist answers disposable-domain lookups.
type Blocklist interface {
	IsDisposable(ctx context.Context, domain string) bool
}

// Resolver resolves a domain's mail path.
type Resolver interface {
	Lookup(ctx context.Context, domain string) models.DNSResult
}

// Prober speaks SMTP to a domain's exchangers.
type Prober interface {
	Verify(ctx context.Context, email string, records []models.MX) models.ProbeResult
	TestCatchAll(ctx context.Context, domain string, records []models.MX) bool
}

// Coordinator owns all verification state for one domain: the DNS and
// catch-all caches, the per-email result cache, and the admission gate
// that bounds concurrent probes against the domain's exchangers. All
// state mutations go through its mutex; network I/O happens outside it.
type Coordinator struct {
	domain    string
	cfg       *config.Config
	blocklist Blocklist
	resolver  Resolver
	prober    Prober
	log       *logrus.Entry

	mu           sync.Mutex
	active       int
	dns          *models.DNSResult
	dnsExpires   time.Time
	catchAll     models.CatchAll
	catchAllDone bool
	emails       *cache.Store

	dnsFlight   singleflight.Group
	catchFlight singleflight.Group
}

func newCoordinator(domain string, cfg *config.Config, bl Blocklist, res Resolver, pr Prober) *Coordinator {
	return &Coordinator{
		domain:    domain,
		cfg:       cfg,
		blocklist: bl,
		resolver:  res,
		prober:    pr,
		emails:    cache.New(cfg.CacheMaxEntries),
		log:       logrus.WithFields(logrus.Fields{"component": "coordinator", "domain": domain}),
	}
}

// verify runs the pipeline for one already-normalized address. The email
// must belong to this coordinator's domain.
func (c *Coordinator) verify(ctx context.Context, email string) (*models.VerificationResult, error) {
	c.mu.Lock()
	c.emails.Purge()
	if c.dns != nil && time.Now().After(c.dnsExpires) {
		c.dns = nil
	}
	if c.active >= c.cfg.MaxConcurrencyPerMX {
		c.mu.Unlock()
		return nil, models.ErrTooManyVerifications
	}
	c.active++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
	defer cancel()

	if v, ok := c.emails.Get(email); ok {
		return v.(*models.VerificationResult), nil
	}

	sig := Signals{SyntaxValid: true}

	sig.Disposable = c.blocklist.IsDisposable(ctx, c.domain)
	if ctx.Err() != nil {
		return c.timeoutResult(email), nil
	}

	dns := c.lookupDNS(ctx)
	if ctx.Err() != nil {
		return c.timeoutResult(email), nil
	}
	sig.DNSValid = dns.Valid()

	if dns.HasMX {
		probe := c.prober.Verify(ctx, email, dns.Records)
		if ctx.Err() != nil {
			return c.timeoutResult(email), nil
		}
		sig.SMTPSuccess = probe.Success
		sig.SMTPCode = probe.Code()

		if probe.Code() >= 500 {
			// The rejection already proves the domain is selective;
			// don't spend a connection on the catch-all probe.
			sig.CatchAll = c.knownCatchAll()
		} else {
			sig.CatchAll = c.ensureCatchAll(ctx, dns.Records)
			if ctx.Err() != nil {
				return c.timeoutResult(email), nil
			}
		}
	}

	out := Score(sig)
	res := &models.VerificationResult{
		Email:     email,
		Status:    out.Status,
		Score:     out.Score,
		Reason:    out.Reason,
		CheckedAt: time.Now().UnixMilli(),
		TTL:       out.TTL.Milliseconds(),
	}
	c.emails.Set(email, res, out.TTL)

	c.log.WithFields(logrus.Fields{
		"email":  email,
		"status": res.Status,
		"score":  res.Score,
	}).Info("verification complete")
	return res, nil
}

// lookupDNS returns the cached DNS result or performs a single lookup
// shared by every concurrent caller for this domain.
func (c *Coordinator) lookupDNS(ctx context.Context) models.DNSResult {
	c.mu.Lock()
	if c.dns != nil && time.Now().Before(c.dnsExpires) {
		d := *c.dns
		c.mu.Unlock()
		return d
	}
	c.mu.Unlock()

	v, _, _ := c.dnsFlight.Do(c.domain, func() (interface{}, error) {
		d := c.resolver.Lookup(ctx, c.domain)
		if ctx.Err() != nil {
			// An aborted lookup must not poison the cache.
			return d, nil
		}
		c.mu.Lock()
		c.dns = &d
		c.dnsExpires = time.Now().Add(c.cfg.DNSCacheTTL)
		c.mu.Unlock()
		return d, nil
	})
	return v.(models.DNSResult)
}

// ensureCatchAll runs the catch-all probe once per coordinator lifetime;
// later calls return the recorded answer. A probe cut short by the
// deadline records nothing, so a later call runs it again.
func (c *Coordinator) ensureCatchAll(ctx context.Context, records []models.MX) models.CatchAll {
	c.mu.Lock()
	if c.catchAllDone {
		v := c.catchAll
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v, _, _ := c.catchFlight.Do(c.domain, func() (interface{}, error) {
		c.mu.Lock()
		if c.catchAllDone {
			v := c.catchAll
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		isCatchAll := c.prober.TestCatchAll(ctx, c.domain, records)
		if ctx.Err() != nil {
			// The probe was cut short; leave the state unknown so a
			// later verification can settle it.
			return models.CatchAllUnknown, nil
		}

		state := models.CatchAllNo
		if isCatchAll {
			state = models.CatchAllYes
		}
		c.mu.Lock()
		c.catchAll = state
		c.catchAllDone = true
		c.mu.Unlock()
		return state, nil
	})
	return v.(models.CatchAll)
}

func (c *Coordinator) knownCatchAll() models.CatchAll {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.catchAllDone {
		return models.CatchAllUnknown
	}
	return c.catchAll
}

func (c *Coordinator) timeoutResult(email string) *models.VerificationResult {
	res := &models.VerificationResult{
		Email:     email,
		Status:    models.StatusTimeout,
		Reason:    ReasonTimedOut,
		CheckedAt: time.Now().UnixMilli(),
		TTL:       TTLTimeout.Milliseconds(),
	}
	c.emails.Set(email, res, TTLTimeout)
	c.log.WithField("email", email).Warn("verification timed out")
	return res
}

func (c *Coordinator) forget(email string) {
	c.emails.Delete(email)
}
