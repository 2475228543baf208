package chain

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Bidon15/erc20kit/internal/metrics"
)

// RetryTransport is an http.RoundTripper that retries failed JSON-RPC requests.
// Transport errors and 5xx responses are retried; 4xx responses are returned as-is.
type RetryTransport struct {
	base   http.RoundTripper
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetryTransport wraps base with the retry policy in cfg.
func NewRetryTransport(base http.RoundTripper, cfg RetryConfig, logger *slog.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryTransport{base: base, cfg: cfg, logger: logger}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rpc endpoint returned HTTP %d", e.code)
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialInterval
	if t.cfg.MaxInterval > 0 {
		b.MaxInterval = t.cfg.MaxInterval
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.cfg.MaxAttempts-1)), req.Context())

	var resp *http.Response
	attempt := 0
	operation := func() error {
		attempt++
		r := req.Clone(req.Context())
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}

		res, err := t.base.RoundTrip(r)
		if err != nil {
			return err
		}
		if res.StatusCode >= http.StatusInternalServerError {
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			return &statusError{code: res.StatusCode}
		}
		resp = res
		return nil
	}

	notify := func(err error, next time.Duration) {
		metrics.RPCRetriesTotal.Inc()
		t.logger.Warn("rpc request failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", next),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}
