package validator

import (
	"context"
	"strings"
	"sync"
	"time"

	"mailprobe/internal/config"
	"mailprobe/internal/models"
)

// Registry routes every verification to the one coordinator owning its
// domain. Coordinators are created on first use and live for the
// process lifetime; cross-domain parallelism comes from many
// coordinators operating independently.
type Registry struct {
	cfg       *config.Config
	blocklist Blocklist
	resolver  Resolver
	prober    Prober

	mu      sync.Mutex
	domains map[string]*Coordinator
}

func NewRegistry(cfg *config.Config, bl Blocklist, res Resolver, pr Prober) *Registry {
	return &Registry{
		cfg:       cfg,
		blocklist: bl,
		resolver:  res,
		prober:    pr,
		domains:   make(map[string]*Coordinator),
	}
}

// Verify validates the address shape, then hands the normalized address
// to its domain coordinator. Syntax failures short-circuit to a
// zero-score result without consuming an admission slot.
func (r *Registry) Verify(ctx context.Context, raw string) (*models.VerificationResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, models.ErrMissingEmail
	}

	local, domain, ok := ParseAddress(raw)
	if !ok {
		out := Score(Signals{})
		return &models.VerificationResult{
			Email:     raw,
			Status:    out.Status,
			Score:     out.Score,
			Reason:    out.Reason,
			CheckedAt: time.Now().UnixMilli(),
			TTL:       out.TTL.Milliseconds(),
		}, nil
	}

	return r.coordinator(domain).verify(ctx, local+"@"+domain)
}

// Forget drops any cached result for the address, e.g. after a deletion
// request removed its persisted rows.
func (r *Registry) Forget(raw string) {
	local, domain, ok := ParseAddress(raw)
	if !ok {
		return
	}
	r.mu.Lock()
	co := r.domains[domain]
	r.mu.Unlock()
	if co != nil {
		co.forget(local + "@" + domain)
	}
}

func (r *Registry) coordinator(domain string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	co, ok := r.domains[domain]
	if !ok {
		co = newCoordinator(domain, r.cfg, r.blocklist, r.resolver, r.prober)
		r.domains[domain] = co
	}
	return co
}
