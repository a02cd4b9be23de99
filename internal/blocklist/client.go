package blocklist

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mailprobe/internal/psl"
)

// KeyPrefix is the canonical key schema shared with existing datasets.
// Changing it breaks interoperability with the refresh job's output.
const KeyPrefix = "blocklist/disposable/"

// KV is the read side of the blocklist store.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Client answers disposable-domain lookups against the shared KV store.
// It fails open: an outage of the blocklist must never block verification.
type Client struct {
	kv      KV
	timeout time.Duration
	log     *logrus.Entry
}

func NewClient(kv KV, timeout time.Duration) *Client {
	return &Client{
		kv:      kv,
		timeout: timeout,
		log:     logrus.WithField("component", "blocklist"),
	}
}

// IsDisposable reports whether the exact domain, or its registrable
// parent, is on the disposable list. Backend errors and timeouts are
// swallowed and read as "not disposable".
func (c *Client) IsDisposable(ctx context.Context, domain string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	keys := []string{domain}
	if parent := psl.Registrable(domain); parent != domain {
		keys = append(keys, parent)
	}

	for _, key := range keys {
		_, err := c.kv.Get(ctx, KeyPrefix+key).Result()
		if err == nil {
			return true
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		c.log.WithError(err).WithField("domain", domain).Debug("lookup failed, treating as not disposable")
		return false
	}
	return false
}
