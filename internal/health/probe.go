// Package health polls service health endpoints until they answer, the
// retry budget is spent, the total timeout elapses or the caller cancels.
//
// The retry loop is hashicorp/go-retryablehttp: CheckRetry decides what a
// healthy answer is, Backoff implements the fixed or exponential policy, and
// RequestLogHook feeds attempt numbers to the caller's Observer.
package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"stackctl/internal/descriptor"
	"stackctl/pkg/logging"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	subsystem = "HealthProbe"

	// maxBodyBytes bounds how much of a response is read for expectBody.
	maxBodyBytes = 64 << 10
)

// Observer is told about every attempt before it is sent. attempt starts at
// one.
type Observer func(attempt int, at time.Time)

// Result summarizes one Probe call.
type Result struct {
	Healthy     bool
	Attempts    int
	LastError   error
	LastCheckAt time.Time
	// Cancelled is set when the caller's context ended the probe, as opposed
	// to the probe's own timeout.
	Cancelled bool
}

// Prober runs health checks. The zero value is usable.
type Prober struct {
	// Transport is used for every request; nil means a clone of
	// http.DefaultTransport.
	Transport http.RoundTripper

	once      sync.Once
	transport http.RoundTripper
}

// NewProber returns a Prober with its own connection pool.
func NewProber() *Prober {
	return &Prober{}
}

func (p *Prober) roundTripper() http.RoundTripper {
	p.once.Do(func() {
		if p.Transport != nil {
			p.transport = p.Transport
			return
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DisableKeepAlives = true
		p.transport = t
	})
	return p.transport
}

// URL renders the probe target. address is host:port, or a base URL when it
// already carries a scheme.
func URL(address, path string) string {
	base := address
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = strings.TrimRight(base, "/")
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Probe polls address until it is healthy. A nil health check is trivially
// healthy; the caller guarantees the process is running.
func (p *Prober) Probe(ctx context.Context, address string, hc *descriptor.HealthCheck, observe Observer) Result {
	if hc == nil {
		return Result{Healthy: true}
	}
	check := hc.WithDefaults(descriptor.KindGeneric, descriptor.DefaultProbeDefaults)
	return p.run(ctx, address, check, check.Retries(), check.Timeout(), observe)
}

// Check performs a single attempt with the per-attempt timeout. It is used
// for periodic re-probing of a running service.
func (p *Prober) Check(ctx context.Context, address string, hc *descriptor.HealthCheck) error {
	if hc == nil {
		return nil
	}
	check := hc.WithDefaults(descriptor.KindGeneric, descriptor.DefaultProbeDefaults)
	res := p.run(ctx, address, check, 0, check.AttemptTimeout(), nil)
	if res.Healthy {
		return nil
	}
	return res.LastError
}

func (p *Prober) run(ctx context.Context, address string, hc descriptor.HealthCheck, retries int, timeout time.Duration, observe Observer) Result {
	var (
		mu  sync.Mutex
		res Result
	)

	probeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: p.roundTripper(),
		Timeout:   hc.AttemptTimeout(),
	}
	client.Logger = leveledLogger{}
	client.RetryMax = retries
	client.RetryWaitMin = hc.Interval()
	client.RetryWaitMax = maxWait(hc)
	client.Backoff = backoffFor(hc.Backoff)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		now := time.Now()
		mu.Lock()
		res.Attempts = attempt + 1
		res.LastCheckAt = now
		mu.Unlock()
		if observe != nil {
			observe(attempt+1, now)
		}
	}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		failure := evaluate(resp, err, hc.ExpectBody)
		mu.Lock()
		res.LastError = failure
		mu.Unlock()
		return failure != nil, nil
	}

	target := URL(address, hc.Path)
	req, err := retryablehttp.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{LastError: fmt.Errorf("building health request for %s: %w", target, err)}
	}

	resp, doErr := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()

	switch {
	case ctx.Err() != nil:
		res.Cancelled = true
		res.LastError = ctx.Err()
	case doErr == nil && res.LastError == nil && res.Attempts > 0:
		res.Healthy = true
	case res.LastError == nil:
		res.LastError = doErr
	}
	if !res.Healthy && probeCtx.Err() != nil && !res.Cancelled {
		res.LastError = fmt.Errorf("no healthy response from %s within %s: %w", target, timeout, lastCause(res.LastError, probeCtx.Err()))
	}

	if res.Healthy {
		logging.Debug(subsystem, "%s healthy after %d attempt(s)", target, res.Attempts)
	} else {
		logging.Debug(subsystem, "%s unhealthy after %d attempt(s): %v", target, res.Attempts, res.LastError)
	}
	return res
}

func lastCause(last, ctxErr error) error {
	if last == nil || errors.Is(last, context.DeadlineExceeded) {
		return ctxErr
	}
	return last
}

// evaluate returns nil when resp is a healthy answer, otherwise the reason
// it is not.
func evaluate(resp *http.Response, err error, expectBody string) error {
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if expectBody == "" {
		return nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return fmt.Errorf("reading health response: %w", readErr)
	}
	if !bytes.Contains(body, []byte(expectBody)) {
		return fmt.Errorf("response body does not contain %q", expectBody)
	}
	return nil
}

// backoffFor returns the wait between attempts. The exponential policy
// honours Retry-After on 429 and 503 answers, but never waits longer than max.
func backoffFor(policy descriptor.BackoffPolicy) retryablehttp.Backoff {
	if policy == descriptor.BackoffExponential {
		return func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
			wait := retryablehttp.DefaultBackoff(min, max, attempt, resp)
			if wait > max {
				return max
			}
			return wait
		}
	}
	return func(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return min
	}
}

// maxWait caps exponential growth at eight intervals and never beyond the
// total timeout.
func maxWait(hc descriptor.HealthCheck) time.Duration {
	w := 8 * hc.Interval()
	if t := hc.Timeout(); t > 0 && w > t {
		w = t
	}
	if w < hc.Interval() {
		w = hc.Interval()
	}
	return w
}

// leveledLogger routes retryablehttp's own messages to debug logging.
type leveledLogger struct{}

func (leveledLogger) Error(msg string, kv ...interface{}) {
	logging.Debug(subsystem, "%s %s", msg, formatKV(kv))
}

func (leveledLogger) Info(msg string, kv ...interface{}) {
	logging.Debug(subsystem, "%s %s", msg, formatKV(kv))
}

func (leveledLogger) Debug(msg string, kv ...interface{}) {
	logging.Debug(subsystem, "%s %s", msg, formatKV(kv))
}

func (leveledLogger) Warn(msg string, kv ...interface{}) {
	logging.Debug(subsystem, "%s %s", msg, formatKV(kv))
}

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
