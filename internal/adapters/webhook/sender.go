// Package webhook delivers webhook POSTs over HTTP.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/dxpops/conductor/internal/core"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	// maxResponseBody bounds how much of an endpoint's answer is kept on a delivery record.
	maxResponseBody = 4 << 10

	defaultUserAgent = "conductor-webhooks/1"

	// EventIDHeader carries the event ID so receivers can deduplicate redeliveries.
	EventIDHeader = "X-Conductor-Event-Id"
)

var errPrivateDestination = errors.New("webhook destination resolves to a private address")

// SenderOptions configures a Sender.
type SenderOptions struct {
	// Optional: per-attempt timeout, defaults to 10s.
	Timeout time.Duration
	// Optional: outbound pacing across all webhooks; zero disables pacing.
	MaxPerSecond float64
	// Optional: permit loopback, private and link-local destinations.
	AllowPrivate bool
	// Optional: attach client-credentials bearer tokens to every POST.
	OAuth2 *clientcredentials.Config
	// Optional: overrides the transport (tests).
	Transport http.RoundTripper
	UserAgent string
	Logger    *slog.Logger
}

// Sender implements core.WebhookSender with net/http.
type Sender struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *slog.Logger
}

var _ core.WebhookSender = (*Sender)(nil)

// NewSender builds a Sender from opts.
func NewSender(opts SenderOptions) *Sender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := opts.Transport
	if transport == nil {
		transport = newTransport(opts.AllowPrivate)
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if opts.OAuth2 != nil {
		// The token source fetches tokens with the same guarded client.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		authed := opts.OAuth2.Client(ctx)
		authed.Timeout = timeout
		authed.CheckRedirect = client.CheckRedirect
		client = authed
	}

	var limiter *rate.Limiter
	if opts.MaxPerSecond > 0 {
		burst := int(opts.MaxPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.MaxPerSecond), burst)
	}

	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Sender{
		client:    client,
		limiter:   limiter,
		userAgent: ua,
		logger:    logger.With("component", "webhook_sender"),
	}
}

// Send performs one POST. Transport failures are returned as errors; blocked or malformed
// destinations come back as permanent errors so the dispatcher does not retry them.
func (s *Sender) Send(ctx context.Context, req core.WebhookRequest) (*core.WebhookResponse, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, apperrors.Permanent(err)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("webhook pacing: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, apperrors.Permanent(fmt.Errorf("create webhook request: %w", err))
	}
	// Registered headers go first so they cannot replace the payload content type.
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}
	if req.EventID != "" {
		httpReq.Header.Set(EventIDHeader, req.EventID)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, errPrivateDestination) {
			return nil, apperrors.Permanent(err)
		}
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		s.logger.DebugContext(ctx, "read webhook response body", "url", redactURL(req.URL), "error", err)
	}

	s.logger.DebugContext(ctx, "webhook attempt",
		"url", redactURL(req.URL),
		"event_id", req.EventID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &core.WebhookResponse{
		StatusCode: resp.StatusCode,
		RetryAfter: util.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Body:       strings.TrimSpace(string(body)),
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported webhook url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("webhook url has no host")
	}
	return nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Redacted()
}

// newTransport checks the dialed address rather than the URL host so DNS names that
// resolve to internal addresses are caught too.
func newTransport(allowPrivate bool) *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || isPrivate(ip) {
				return errPrivateDestination
			}
			return nil
		}
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = dialer.DialContext
	t.Proxy = nil
	return t
}

func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}
