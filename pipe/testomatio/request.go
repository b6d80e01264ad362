package testomatio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/metrics"
	"golang.org/x/time/rate"
)

const maxErrorBodySize = 64 * 1024

// RequestError is a non-2xx response of the reporting service.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Status)
}

// retryableStatus classifies responses: anything from 401 up is retried,
// except the statuses that are final for the call.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError:
		return false
	}
	return code >= http.StatusUnauthorized
}

type requester struct {
	logger     zerolog.Logger
	name       string
	baseURL    string
	client     *http.Client
	retries    int
	retryDelay time.Duration
	limiter    *rate.Limiter
}

func newRequester(logger zerolog.Logger, name, baseURL string, timeout time.Duration, retries int, retryDelay time.Duration, rps float64) *requester {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps) + 1
	}
	return &requester{
		logger:     logger,
		name:       name,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		retries:    retries,
		retryDelay: retryDelay,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// do sends body as JSON and decodes a JSON response into out. Retryable
// failures are retried with a fixed delay; the last error is returned.
func (r *requester) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	// <= to account for the first attempt not being a retry
	for i := 0; i <= r.retries; i++ {
		if i > 0 {
			metrics.RecordRetry(r.name)
			r.logger.Debug().
				Str("method", method).
				Str("path", path).
				Int("attempt", i+1).
				Err(lastErr).
				Msg("Retrying request")
			if err := sleepContext(ctx, r.retryDelay); err != nil {
				return err
			}
		}

		retry, err := r.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	metrics.RecordRequestFailure(r.name)
	return lastErr
}

func (r *requester) attempt(ctx context.Context, method, path string, payload []byte, out any) (retry bool, err error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		metrics.RecordRequest(r.name, method, 0)
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// networking errors and timeouts
		return true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	metrics.RecordRequest(r.name, method, res.StatusCode)

	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
		return retryableStatus(res.StatusCode), &RequestError{
			Method:  method,
			Path:    path,
			Status:  res.StatusCode,
			Message: serverMessage(data),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return false, nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return false, nil
}

// serverMessage extracts the message of an error body such as
// {"message": "..."} or {"error": "..."}; plain text bodies are returned trimmed.
func serverMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
