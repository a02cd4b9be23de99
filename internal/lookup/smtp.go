package lookup

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/models"
)

// Prober speaks just enough SMTP to learn whether a mailbox exists:
// HELO, an opportunistic STARTTLS, MAIL FROM, RCPT TO, QUIT. It never
// issues DATA.
type Prober struct {
	HeloDomain string
	ProbeEmail string
	Timeout    time.Duration // whole dialog, per MX attempt
	Port       int

	log *logrus.Entry
}

func NewProber(heloDomain, probeEmail string, timeout time.Duration, port int) *Prober {
	if port == 0 {
		port = 25
	}
	return &Prober{
		HeloDomain: heloDomain,
		ProbeEmail: probeEmail,
		Timeout:    timeout,
		Port:       port,
		log:        logrus.WithField("component", "smtp"),
	}
}

// Verify probes the MX list in priority order until a conclusive answer.
// A positive RCPT TO reply is success; a 5xx reply is an authoritative
// rejection and stops the scan. Everything else (connect failure,
// timeout, 4xx, garbage) falls through to the next exchanger.
func (p *Prober) Verify(ctx context.Context, email string, records []models.MX) models.ProbeResult {
	if len(records) == 0 {
		return models.ProbeResult{Error: "no mail exchangers"}
	}

	var lastErr string
	for _, mx := range records {
		resp, err := p.attempt(ctx, mx.Host, email)
		if err != nil {
			lastErr = err.Error()
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.Positive() {
			return models.ProbeResult{Success: true, Response: resp}
		}
		if resp.Permanent() {
			// The mailbox verdict is final; asking another MX of the
			// same domain cannot change it.
			return models.ProbeResult{Response: resp}
		}
		lastErr = fmt.Sprintf("%s: transient reply %d %s", mx.Host, resp.Code, resp.Message)
		if ctx.Err() != nil {
			break
		}
	}
	return models.ProbeResult{Error: lastErr}
}

// TestCatchAll asks the domain's exchangers about a local part that
// cannot plausibly exist. A positive answer means the domain accepts
// arbitrary recipients.
func (p *Prober) TestCatchAll(ctx context.Context, domain string, records []models.MX) bool {
	probe := randomProbeLocal() + "@" + domain
	res := p.Verify(ctx, probe, records)
	p.log.WithFields(logrus.Fields{"domain": domain, "catch_all": res.Success}).Debug("catch-all probe done")
	return res.Success
}

// attempt runs one full dialog against a single exchanger. A failed TLS
// upgrade after a positive STARTTLS reply poisons the session, so the
// dialog is reopened once in plaintext.
func (p *Prober) attempt(ctx context.Context, host, email string) (*models.SMTPResponse, error) {
	resp, poisoned, err := p.dialog(ctx, host, email, true)
	if poisoned {
		p.log.WithField("mx", host).WithError(err).Debug("TLS upgrade failed, reopening in plaintext")
		resp, _, err = p.dialog(ctx, host, email, false)
	}
	return resp, err
}

func (p *Prober) dialog(ctx context.Context, host, email string, tryTLS bool) (rcpt *models.SMTPResponse, poisoned bool, err error) {
	d := net.Dialer{Timeout: p.Timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(p.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	// One deadline covers the whole dialog, tightened by the caller's
	// context so the outer pipeline deadline truly interrupts the read.
	deadline := time.Now().Add(p.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	text := textproto.NewConn(conn)
	defer text.Close()

	if banner := readResponse(text); banner.Code/100 != 2 {
		return nil, false, fmt.Errorf("%s: banner %d %s", host, banner.Code, banner.Message)
	}
	if err := p.helo(text, host); err != nil {
		return nil, false, err
	}

	if tryTLS {
		if err := text.PrintfLine("STARTTLS"); err != nil {
			return nil, false, fmt.Errorf("%s: STARTTLS: %w", host, err)
		}
		if ready := readResponse(text); ready.Positive() {
			tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				return nil, true, fmt.Errorf("%s: TLS handshake: %w", host, err)
			}
			text = textproto.NewConn(tlsConn)
			defer text.Close()
			if err := p.helo(text, host); err != nil {
				return nil, false, err
			}
		}
		// A negative STARTTLS reply is fine: the dialog continues in
		// plaintext on the same session.
	}

	if resp, err := p.cmd(text, "MAIL FROM:<%s>", p.ProbeEmail); err != nil {
		return nil, false, err
	} else if resp.Code/100 != 2 {
		return nil, false, fmt.Errorf("%s: MAIL FROM rejected: %d %s", host, resp.Code, resp.Message)
	}

	rcpt, err = p.cmd(text, "RCPT TO:<%s>", email)
	if err != nil {
		return nil, false, err
	}

	_ = text.PrintfLine("QUIT")
	return rcpt, false, nil
}

func (p *Prober) helo(text *textproto.Conn, host string) error {
	resp, err := p.cmd(text, "HELO %s", p.HeloDomain)
	if err != nil {
		return err
	}
	if resp.Code/100 != 2 {
		return fmt.Errorf("%s: HELO rejected: %d %s", host, resp.Code, resp.Message)
	}
	return nil
}

func (p *Prober) cmd(text *textproto.Conn, format string, args ...interface{}) (*models.SMTPResponse, error) {
	if err := text.PrintfLine(format, args...); err != nil {
		return nil, err
	}
	return readResponse(text), nil
}

var responseRe = regexp.MustCompile(`^(\d{3})([ -])(.*)$`)

// readResponse parses one server reply, draining `-` continuation lines
// until the space separator. Unparseable replies and read errors yield
// code 0, which callers treat as transient.
func readResponse(text *textproto.Conn) *models.SMTPResponse {
	var b strings.Builder
	for {
		line, err := text.ReadLine()
		if err != nil {
			return &models.SMTPResponse{Code: 0, Message: b.String()}
		}
		m := responseRe.FindStringSubmatch(line)
		if m == nil {
			return &models.SMTPResponse{Code: 0, Message: line}
		}
		code, _ := strconv.Atoi(m[1])
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(m[3])
		if m[2] == " " {
			return &models.SMTPResponse{Code: code, Message: b.String()}
		}
	}
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// randomProbeLocal builds a local part like "probe-k3x9f0q2" that is
// vanishingly unlikely to exist as a real mailbox.
func randomProbeLocal() string {
	buf := make([]byte, 11)
	if _, err := rand.Read(buf); err != nil {
		return "probe-0z9y8x7w"
	}
	n := 8 + int(buf[0])%3
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = base36[int(buf[i+1])%len(base36)]
	}
	return "probe-" + string(out)
}
