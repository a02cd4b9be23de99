package validator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailprobe/internal/config"
	"mailprobe/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxConcurrencyPerMX: 5,
		SMTPTimeout:         time.Second,
		DNSTimeout:          time.Second,
		BlocklistTimeout:    time.Second,
		VerifyTimeout:       5 * time.Second,
		PipelineTimeout:     10 * time.Second,
		DNSCacheTTL:         time.Hour,
		CacheMaxEntries:     16,
	}
}

type stubBlocklist struct{ disposable bool }

func (s *stubBlocklist) IsDisposable(ctx context.Context, domain string) bool {
	return s.disposable
}

type stubResolver struct {
	result models.DNSResult
	calls  int32
}

func (s *stubResolver) Lookup(ctx context.Context, domain string) models.DNSResult {
	atomic.AddInt32(&s.calls, 1)
	return s.result
}

// blockingResolver parks until the context expires, standing in for an
// unresponsive DoH upstream.
type blockingResolver struct{}

func (s *blockingResolver) Lookup(ctx context.Context, domain string) models.DNSResult {
	<-ctx.Done()
	return models.DNSResult{}
}

type stubProber struct {
	result     models.ProbeResult
	catchAll   bool
	verifyIn   chan struct{} // closed-ish signal: receives one value per Verify entry
	verifyGate chan struct{} // Verify blocks reading this when non-nil

	verifyCalls int32
	catchCalls  int32
}

func (s *stubProber) Verify(ctx context.Context, email string, records []models.MX) models.ProbeResult {
	atomic.AddInt32(&s.verifyCalls, 1)
	if s.verifyIn != nil {
		s.verifyIn <- struct{}{}
	}
	if s.verifyGate != nil {
		select {
		case <-s.verifyGate:
		case <-ctx.Done():
		}
	}
	return s.result
}

func (s *stubProber) TestCatchAll(ctx context.Context, domain string, records []models.MX) bool {
	atomic.AddInt32(&s.catchCalls, 1)
	return s.catchAll
}

func mxDNS() models.DNSResult {
	return models.DNSResult{
		HasMX:   true,
		Records: []models.MX{{Pref: 5, Host: "mx1.corp.example"}},
		HasA:    true,
	}
}

func accepted() models.ProbeResult {
	return models.ProbeResult{Success: true, Response: &models.SMTPResponse{Code: 250, Message: "OK"}}
}

func newTestRegistry(bl Blocklist, res Resolver, pr Prober, cfg *config.Config) *Registry {
	if cfg == nil {
		cfg = testConfig()
	}
	return NewRegistry(cfg, bl, res, pr)
}

func TestVerifyDeliverable(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{result: accepted(), catchAll: false}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	res, err := reg.Verify(context.Background(), "Alice@Corp.Example.com ")
	require.NoError(t, err)

	assert.Equal(t, "alice@corp.example.com", res.Email)
	assert.Equal(t, models.StatusDeliverable, res.Status)
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.Reason)
	assert.Equal(t, int64((24 * time.Hour).Milliseconds()), res.TTL)
	assert.Positive(t, res.CheckedAt)
}

func TestVerifyInvalidSyntax(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	reg := newTestRegistry(&stubBlocklist{}, resolver, &stubProber{}, nil)

	res, err := reg.Verify(context.Background(), "not-an-email")
	require.NoError(t, err)

	assert.Equal(t, models.StatusUndeliverable, res.Status)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, ReasonInvalidSyntax, res.Reason)
	assert.EqualValues(t, 0, atomic.LoadInt32(&resolver.calls), "syntax failures must not reach DNS")
}

func TestVerifyMissingEmail(t *testing.T) {
	reg := newTestRegistry(&stubBlocklist{}, &stubResolver{}, &stubProber{}, nil)

	_, err := reg.Verify(context.Background(), "   ")
	assert.ErrorIs(t, err, models.ErrMissingEmail)
}

func TestVerifyNoMailPath(t *testing.T) {
	resolver := &stubResolver{result: models.DNSResult{}}
	prober := &stubProber{}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	res, err := reg.Verify(context.Background(), "nobody@dead.example.com")
	require.NoError(t, err)

	assert.Equal(t, models.StatusUndeliverable, res.Status)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, ReasonNoMailServer, res.Reason)
	assert.EqualValues(t, 0, atomic.LoadInt32(&prober.verifyCalls), "no probe without an MX")
}

func TestVerifyCachedResultIsReturnedVerbatim(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{result: accepted()}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	first, err := reg.Verify(context.Background(), "bob@corp.example.com")
	require.NoError(t, err)
	second, err := reg.Verify(context.Background(), "bob@corp.example.com")
	require.NoError(t, err)

	assert.Same(t, first, second, "cache must return the stored result")
	assert.EqualValues(t, 1, atomic.LoadInt32(&resolver.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&prober.verifyCalls))
}

func TestVerifySingleDNSLookupPerDomain(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{result: accepted()}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	for _, email := range []string{"a@corp.example.com", "b@corp.example.com", "c@corp.example.com"} {
		_, err := reg.Verify(context.Background(), email)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&resolver.calls), "DNS result must be cached per domain")
}

func TestVerifyCatchAllProbedOnce(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{result: accepted(), catchAll: true}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	for _, email := range []string{"a@bulk.example.com", "b@bulk.example.com", "c@bulk.example.com"} {
		res, err := reg.Verify(context.Background(), email)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRisky, res.Status)
		assert.Contains(t, res.Reason, "catch-all")
	}

	assert.EqualValues(t, 1, atomic.LoadInt32(&prober.catchCalls), "catch-all is probed at most once per domain")
}

func TestVerifyHardBounceSkipsCatchAllProbe(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{
		result: models.ProbeResult{Response: &models.SMTPResponse{Code: 550, Message: "5.1.1 User unknown"}},
	}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	res, err := reg.Verify(context.Background(), "ghost@realdomain.example")
	require.NoError(t, err)

	assert.Equal(t, models.StatusUndeliverable, res.Status)
	assert.Equal(t, 0, res.Score)
	assert.Contains(t, res.Reason, ReasonNoMailbox)
	assert.EqualValues(t, 0, atomic.LoadInt32(&prober.catchCalls))
}

func TestAdmissionGate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrencyPerMX = 1

	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{
		result:     accepted(),
		verifyIn:   make(chan struct{}, 1),
		verifyGate: make(chan struct{}),
	}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, cfg)

	type outcome struct {
		res *models.VerificationResult
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := reg.Verify(context.Background(), "first@throttled.example.com")
		firstDone <- outcome{res, err}
	}()

	// Wait until the first verification is parked inside the prober.
	select {
	case <-prober.verifyIn:
	case <-time.After(2 * time.Second):
		t.Fatal("first verification never reached the prober")
	}

	_, err := reg.Verify(context.Background(), "second@throttled.example.com")
	assert.ErrorIs(t, err, models.ErrTooManyVerifications)

	close(prober.verifyGate)
	select {
	case o := <-firstDone:
		require.NoError(t, o.err)
		assert.Equal(t, models.StatusDeliverable, o.res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("first verification never completed")
	}

	// The slot is free again.
	res, err := reg.Verify(context.Background(), "third@throttled.example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeliverable, res.Status)
}

func TestVerifyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyTimeout = 50 * time.Millisecond

	reg := newTestRegistry(&stubBlocklist{}, &blockingResolver{}, &stubProber{}, cfg)

	res, err := reg.Verify(context.Background(), "slow@stuck.example.com")
	require.NoError(t, err)

	assert.Equal(t, models.StatusTimeout, res.Status)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, TTLTimeout.Milliseconds(), res.TTL)
}

func TestForgetDropsCachedResult(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{result: accepted()}
	reg := newTestRegistry(&stubBlocklist{}, resolver, prober, nil)

	_, err := reg.Verify(context.Background(), "erased@corp.example.com")
	require.NoError(t, err)
	reg.Forget("erased@corp.example.com")

	_, err = reg.Verify(context.Background(), "erased@corp.example.com")
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&prober.verifyCalls), "forgotten address must be re-verified")
}

func TestVerifyDisposableDomain(t *testing.T) {
	resolver := &stubResolver{result: mxDNS()}
	prober := &stubProber{result: accepted(), catchAll: false}
	reg := newTestRegistry(&stubBlocklist{disposable: true}, resolver, prober, nil)

	res, err := reg.Verify(context.Background(), "x@burner.example.com")
	require.NoError(t, err)

	// 20 (disposable) + 30 (not catch-all) + 50 (accepted) = 100.
	assert.Equal(t, models.StatusDeliverable, res.Status)
	assert.Contains(t, res.Reason, ReasonDisposable)
}
