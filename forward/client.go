// Package forward translates editor requests into calls to the remote
// execution backend and the local analysis service, and normalizes their
// replies.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxResponseSize = 16 << 20
)

// Config defines the behaviour shared by all upstream calls
type Config struct {
	// HTTPClient defaults to a new client with its own transport
	HTTPClient *http.Client
	// Timeout bounds a single attempt, 0 uses the default
	Timeout time.Duration
	// Retry is the number of extra attempts, clamped to [0, 1]
	Retry int
	// MaxResponseSize bounds the reply body in bytes, 0 uses the default
	MaxResponseSize int64
	Logger          *zap.Logger
	// Observer is called once per finished call (after all attempts)
	Observer func(Observation)
}

// Observation describes a finished upstream call
type Observation struct {
	Service  string
	Op       string
	Attempts int
	Duration time.Duration
	Err      error
}

type client struct {
	http            *http.Client
	timeout         time.Duration
	retry           int
	maxResponseSize int64
	logger          *zap.Logger
	observer        func(Observation)
}

func newClient(conf Config) *client {
	c := &client{
		http:            conf.HTTPClient,
		timeout:         conf.Timeout,
		retry:           min(max(conf.Retry, 0), 1),
		maxResponseSize: conf.MaxResponseSize,
		logger:          conf.Logger,
		observer:        conf.Observer,
	}
	if c.http == nil {
		c.http = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxResponseSize <= 0 {
		c.maxResponseSize = defaultMaxResponseSize
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// post sends in as JSON to url and decodes a 2xx reply into out
func (c *client) post(ctx context.Context, service, op, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &UpstreamError{Service: service, Op: op, Message: err.Error(), Err: err}
	}

	start := time.Now()
	attempts := 0
	for {
		attempts++
		c.logger.Debug("upstream request",
			zap.String("service", service), zap.String("op", op),
			zap.String("url", url), zap.Int("attempt", attempts))
		err = c.do(ctx, service, op, url, body, out)
		if err == nil || attempts > c.retry || !retryable(ctx, err) {
			break
		}
		c.logger.Warn("upstream request failed, retrying",
			zap.String("service", service), zap.String("op", op), zap.Error(err))
	}

	d := time.Since(start)
	if err != nil {
		c.logger.Warn("upstream request failed",
			zap.String("service", service), zap.String("op", op),
			zap.Int("attempts", attempts), zap.Duration("duration", d), zap.Error(err))
	} else {
		c.logger.Debug("upstream response",
			zap.String("service", service), zap.String("op", op),
			zap.Int("attempts", attempts), zap.Duration("duration", d))
	}
	if c.observer != nil {
		c.observer(Observation{
			Service:  service,
			Op:       op,
			Attempts: attempts,
			Duration: d,
			Err:      err,
		})
	}
	return err
}

func (c *client) do(ctx context.Context, service, op, url string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &UpstreamError{Service: service, Op: op, Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Service: service, Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return &UpstreamError{Service: service, Op: op, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if int64(len(data)) > c.maxResponseSize {
		return &UpstreamError{
			Service:    service,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("response exceeds %d bytes", c.maxResponseSize),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{
			Service:    service,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    statusMessage(resp.StatusCode, data),
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{
			Service:    service,
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    "invalid response: " + err.Error(),
			Err:        err,
		}
	}
	return nil
}

// retryable reports whether another attempt may succeed: the caller is
// still waiting and the failure was in transport or on the server side
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	e, ok := err.(*UpstreamError)
	if !ok {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// statusMessage prefers the message reported by the upstream service
func statusMessage(code int, data []byte) string {
	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &reply) == nil {
		if reply.Message != "" {
			return reply.Message
		}
		if reply.Error != "" {
			return reply.Error
		}
	}
	return fmt.Sprintf("Request failed with status code %d", code)
}
