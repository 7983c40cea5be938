// Package httpshell wraps every outbound call: retry with backoff, one
// circuit breaker per external service, and a pool of long-lived clients.
package httpshell

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 10 << 20

// Service names; one breaker and one client each.
const (
	ServiceRPC         = "rpc"
	ServiceDexScreener = "dexscreener"
	ServiceJupiter     = "jupiter"
	ServiceWormhole    = "wormholescan"
	ServiceImage       = "image"
)

type Options struct {
	Timeout          time.Duration
	RetryAttempts    int
	RetryBaseWait    time.Duration
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
}

// Shell owns the client pool and breakers. Create once at startup, Close at
// shutdown.
type Shell struct {
	clients  map[string]*http.Client
	breakers map[string]*Breaker

	attempts int
	baseWait time.Duration
}

func New(opts Options) *Shell {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseWait == 0 {
		opts.RetryBaseWait = 500 * time.Millisecond
	}

	s := &Shell{
		clients:  map[string]*http.Client{},
		breakers: map[string]*Breaker{},
		attempts: opts.RetryAttempts,
		baseWait: opts.RetryBaseWait,
	}
	for _, svc := range []string{ServiceRPC, ServiceDexScreener, ServiceJupiter, ServiceWormhole, ServiceImage} {
		s.clients[svc] = &http.Client{Timeout: opts.Timeout}
		s.breakers[svc] = NewBreaker(svc, opts.FailureThreshold, opts.SuccessThreshold, opts.RecoveryTimeout)
	}
	return s
}

func (s *Shell) Close() {
	for _, c := range s.clients {
		c.CloseIdleConnections()
	}
}

// Breaker returns the breaker for a service; nil for unknown services.
func (s *Shell) Breaker(service string) *Breaker { return s.breakers[service] }

// BreakerStats snapshots every breaker for the health endpoint.
func (s *Shell) BreakerStats() []Stats {
	out := make([]Stats, 0, len(s.breakers))
	for _, svc := range []string{ServiceRPC, ServiceDexScreener, ServiceJupiter, ServiceWormhole, ServiceImage} {
		out = append(out, s.breakers[svc].Stats())
	}
	return out
}

// GetJSON fetches a URL through the service breaker. A nil return means no
// result: exhausted retries, open breaker, or a permanent rejection. Callers
// must tolerate missing data.
func (s *Shell) GetJSON(ctx context.Context, service, url string, headers map[string]string) []byte {
	return s.do(ctx, service, http.MethodGet, url, nil, headers, false)
}

// PostJSON marshals body and POSTs it. bypassBreaker exempts optional
// enrichment calls from the shared breaker so their flakiness cannot open it
// for critical calls.
func (s *Shell) PostJSON(ctx context.Context, service, url string, body any, bypassBreaker bool) []byte {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Str("service", service).Msg("post body marshal")
		return nil
	}
	return s.do(ctx, service, http.MethodPost, url, payload, map[string]string{"Content-Type": "application/json"}, bypassBreaker)
}

func (s *Shell) do(ctx context.Context, service, method, url string, body []byte, headers map[string]string, bypassBreaker bool) []byte {
	client := s.clients[service]
	if client == nil {
		client = s.clients[ServiceImage]
	}
	br := s.breakers[service]

	for attempt := 0; attempt < s.attempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if br != nil && !bypassBreaker {
			if err := br.Allow(); err != nil {
				return nil
			}
		}

		data, retryAfter, retryable, err := s.once(ctx, client, method, url, body, headers)
		if err == nil {
			if br != nil && !bypassBreaker {
				br.OnSuccess()
			}
			return data
		}
		if br != nil && !bypassBreaker {
			br.OnFailure()
		}
		if !retryable {
			log.Warn().Err(err).Str("service", service).Str("url", url).Msg("request rejected")
			return nil
		}

		wait := retryAfter
		if wait == 0 {
			wait = s.baseWait * time.Duration(1<<attempt)
		}
		log.Debug().Err(err).Str("service", service).Int("attempt", attempt+1).Dur("wait", wait).Msg("retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}

	log.Warn().Str("service", service).Str("url", url).Msg("retries exhausted")
	return nil
}

// once performs a single request. retryAfter is honored on 429; retryable is
// false for permanent rejections (403, 4xx other than 429).
func (s *Shell) once(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (data []byte, retryAfter time.Duration, retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, false, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, 0, true, err
		}
		return data, 0, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Duration(0)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, wait, true, &statusError{resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden:
		return nil, 0, false, &statusError{resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, 0, true, &statusError{resp.StatusCode}
	default:
		return nil, 0, false, &statusError{resp.StatusCode}
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "http status " + strconv.Itoa(e.code) }
