package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loom-platform/loom/infrastructure/httputil"
	"github.com/loom-platform/loom/infrastructure/resilience"
)

// maxSinkErrorBodyBytes caps how much of a non-2xx response body gets
// attached to the sink error, so a misbehaving endpoint can't make a
// failed publish attempt expensive to report.
const maxSinkErrorBodyBytes = 4 << 10

// httpSinkError wraps a failed HTTP publish attempt with whether it is
// worth retrying, per spec's 4xx-is-permanent / 408-429-5xx-is-transient
// classification.
type httpSinkError struct {
	status    int
	retryable bool
	err       error
}

func (e *httpSinkError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("audit http sink: status %d: %v", e.status, e.err)
	}
	return fmt.Sprintf("audit http sink: status %d", e.status)
}

func (e *httpSinkError) IsRetryable() bool { return e.retryable }

var permanentStatuses = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusUnauthorized:        true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusMethodNotAllowed:    true,
	http.StatusNotAcceptable:       true,
	http.StatusGone:                true,
	http.StatusUnsupportedMediaType: true,
	http.StatusUnprocessableEntity: true,
}

func classifyStatus(status int) bool {
	if permanentStatuses[status] {
		return false
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	return status >= 200 && status < 300
}

// HTTPSink POSTs/PUTs/PATCHes each event's JSON encoding to a configured
// URL, retrying transient failures with exponential backoff and jitter.
type HTTPSink struct {
	name     string
	url      string
	method   string
	headers  map[string]string
	client   *http.Client
	retryCfg resilience.RetryConfig
	filterFn func(EnrichedAuditEvent) bool
}

// HTTPSinkConfig configures an HTTPSink. The Retry* fields default to the
// same values infrastructure/config.RetryPolicyConfig's env defaults carry
// (LOOM_RETRY_MAX_ATTEMPTS=5, LOOM_RETRY_INITIAL_DELAY=100ms,
// LOOM_RETRY_MAX_DELAY=30s, LOOM_RETRY_MULTIPLIER=2.0) when left zero, so a
// caller that doesn't source them from config still gets sane behavior.
type HTTPSinkConfig struct {
	Name              string
	URL               string
	Method            string // defaults to POST
	Headers           map[string]string
	Client            *http.Client
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryJitter       float64
	Filter            func(EnrichedAuditEvent) bool
}

// NewHTTPSink constructs an HTTPSink from cfg.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	filterFn := cfg.Filter
	if filterFn == nil {
		filterFn = func(EnrichedAuditEvent) bool { return true }
	}
	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	initialDelay := cfg.RetryInitialDelay
	if initialDelay <= 0 {
		initialDelay = 100 * time.Millisecond
	}
	maxDelay := cfg.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	multiplier := cfg.RetryMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	return &HTTPSink{
		name:    cfg.Name,
		url:     cfg.URL,
		method:  method,
		headers: cfg.Headers,
		client:  client,
		retryCfg: resilience.RetryConfig{
			MaxAttempts:  maxAttempts,
			InitialDelay: initialDelay,
			MaxDelay:     maxDelay,
			Multiplier:   multiplier,
			Jitter:       cfg.RetryJitter,
		},
		filterFn: filterFn,
	}
}

func (s *HTTPSink) Name() string { return s.name }

func (s *HTTPSink) Filter(event EnrichedAuditEvent) bool { return s.filterFn(event) }

func (s *HTTPSink) Publish(ctx context.Context, event EnrichedAuditEvent) error {
	body, err := json.Marshal(jsonLine(event))
	if err != nil {
		return &httpSinkError{retryable: false, err: err}
	}

	return resilience.Retry(ctx, s.retryCfg, func() error {
		return s.doRequest(ctx, body)
	})
}

func (s *HTTPSink) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(body))
	if err != nil {
		return &httpSinkError{retryable: false, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &httpSinkError{retryable: true, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _, _ := httputil.ReadAllWithLimit(resp.Body, maxSinkErrorBodyBytes)
	var bodyErr error
	if len(respBody) > 0 {
		bodyErr = fmt.Errorf("%s", respBody)
	}
	return &httpSinkError{status: resp.StatusCode, retryable: classifyStatus(resp.StatusCode), err: bodyErr}
}

func (s *HTTPSink) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("audit http sink health check: status %d", resp.StatusCode)
	}
	return nil
}
