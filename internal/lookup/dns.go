package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mailprobe/internal/models"
)

// DNS wire types carried in the DoH JSON "type" field.
const (
	typeA    = 1
	typeMX   = 15
	typeAAAA = 28
)

// DoHResolver resolves MX and address records over DNS-over-HTTPS. One
// instance is shared by every coordinator; the per-domain cache above it
// keeps the steady state at one query per domain per TTL.
type DoHResolver struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	log      *logrus.Entry
}

func NewDoHResolver(endpoint string, timeout time.Duration) *DoHResolver {
	return &DoHResolver{
		endpoint: endpoint,
		timeout:  timeout,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: logrus.WithField("component", "dns"),
	}
}

type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

// Lookup resolves the domain's mail path: MX and A concurrently, then
// AAAA only when A came back empty. Any failure collapses to the zero
// result, which callers score as "domain has no valid mail server".
func (r *DoHResolver) Lookup(ctx context.Context, domain string) models.DNSResult {
	var mxAnswers, aAnswers []dohAnswer

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mxAnswers, err = r.query(gctx, domain, "MX", typeMX)
		return err
	})
	g.Go(func() error {
		var err error
		aAnswers, err = r.query(gctx, domain, "A", typeA)
		return err
	})
	if err := g.Wait(); err != nil {
		r.log.WithError(err).WithField("domain", domain).Debug("lookup failed")
		return models.DNSResult{}
	}

	hasA := len(aAnswers) > 0
	if !hasA {
		aaaaAnswers, err := r.query(ctx, domain, "AAAA", typeAAAA)
		if err != nil {
			r.log.WithError(err).WithField("domain", domain).Debug("AAAA lookup failed")
			return models.DNSResult{}
		}
		hasA = len(aaaaAnswers) > 0
	}

	records := parseMX(mxAnswers)
	return models.DNSResult{
		HasMX:   len(records) > 0,
		Records: records,
		HasA:    hasA,
	}
}

func (r *DoHResolver) query(ctx context.Context, domain, qtype string, wireType int) ([]dohAnswer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u := r.endpoint + "?name=" + url.QueryEscape(domain) + "&type=" + qtype
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh %s %s: %w", qtype, domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh %s %s: status %d", qtype, domain, resp.StatusCode)
	}

	var body dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("doh %s %s: %w", qtype, domain, err)
	}

	// The Answer section can carry CNAME chain links; keep only the
	// record type we asked for.
	answers := body.Answer[:0]
	for _, a := range body.Answer {
		if a.Type == wireType {
			answers = append(answers, a)
		}
	}
	return answers, nil
}

// parseMX turns wire-format `"<prio> <exchange>"` strings into records
// sorted ascending by priority. The sort is stable so ties keep their
// DNS response order.
func parseMX(answers []dohAnswer) []models.MX {
	records := make([]models.MX, 0, len(answers))
	for _, a := range answers {
		fields := strings.Fields(a.Data)
		if len(fields) != 2 {
			continue
		}
		prio, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			continue
		}
		host := strings.TrimSuffix(fields[1], ".")
		if host == "" {
			continue
		}
		records = append(records, models.MX{Pref: uint16(prio), Host: host})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	return records
}
