package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Refresher periodically pulls the published disposable-domain list and
// mirrors it into the KV store under the canonical key schema.
type Refresher struct {
	rdb      redis.Cmdable
	url      string
	client   *http.Client
	interval time.Duration
	log      *logrus.Entry
}

func NewRefresher(rdb redis.Cmdable, url string, interval time.Duration) *Refresher {
	return &Refresher{
		rdb:      rdb,
		url:      url,
		client:   &http.Client{Timeout: 30 * time.Second},
		interval: interval,
		log:      logrus.WithField("component", "blocklist-refresh"),
	}
}

// Start runs the refresh loop until ctx is cancelled. When no source URL
// is configured it only seeds the store with the embedded snapshot.
func (r *Refresher) Start(ctx context.Context) {
	if err := r.Seed(ctx); err != nil {
		r.log.WithError(err).Warn("seeding blocklist failed")
	}
	if r.url == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		if err := r.Refresh(ctx); err != nil {
			r.log.WithError(err).Warn("initial refresh failed")
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.log.WithError(err).Warn("refresh failed")
				}
			}
		}
	}()
}

// Refresh fetches the list (a JSON array of domains) and writes every
// entry. Keys are written individually so an interrupted run leaves the
// store no worse than before.
func (r *Refresher) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch disposable list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch disposable list: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var domains []string
	if err := json.Unmarshal(body, &domains); err != nil {
		return fmt.Errorf("parse disposable list: %w", err)
	}

	if err := r.write(ctx, domains); err != nil {
		return err
	}
	r.log.WithField("count", len(domains)).Info("blocklist refreshed")
	return nil
}

// Seed loads the embedded snapshot so lookups work before the first
// successful remote refresh.
func (r *Refresher) Seed(ctx context.Context) error {
	return r.write(ctx, seedDomains)
}

func (r *Refresher) write(ctx context.Context, domains []string) error {
	pipe := r.rdb.Pipeline()
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		pipe.Set(ctx, KeyPrefix+d, "1", 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}
