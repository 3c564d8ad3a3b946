package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/environmental-fusion/internal/common"
	"github.com/i474232898/environmental-fusion/internal/fusion"
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 4 << 20

var (
	errNoHTTPClient = errors.New("http client not configured")
	errUnexpected   = errors.New("unexpected status code")
)

// throttleMarkers are body fragments some providers send with a non-429 status when throttling.
var throttleMarkers = []string{"rate limit", "too many requests", "quota exceeded", "exceeded the limit", "over_query_limit"}

// endpoint is one upstream HTTP contract behind a circuit breaker.
// It performs exactly one request per call; retries belong to the fallback chain.
type endpoint struct {
	id      string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func newEndpoint(id string, client *http.Client) endpoint {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: healthyOutcome,
	})
	return endpoint{id: id, client: client, circuit: cb}
}

// get issues a GET to base+path with the given query and headers and returns the raw body.
func (e endpoint) get(ctx context.Context, base, path string, query url.Values, header http.Header) ([]byte, error) {
	if e.client == nil {
		return nil, e.wrap(errNoHTTPClient)
	}

	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, e.wrap(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	result, err := e.circuit.Execute(func() (interface{}, error) {
		resp, doErr := e.client.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", fusion.ErrNetwork, doErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: reading body: %v", fusion.ErrNetwork, readErr)
		}

		if err := classifyStatus(resp.StatusCode, body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, e.wrap(fmt.Errorf("%w: %v", fusion.ErrCircuitOpen, err))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.wrap(err)
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, e.wrap(fmt.Errorf("unexpected result type from circuit breaker"))
	}
	return body, nil
}

// healthyOutcome decides what the circuit breaker counts as a success. Cancellations
// and deadlines come from the caller, and a plain 4xx means the request was wrong;
// neither says anything about the upstream being down.
func healthyOutcome(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, errUnexpected)
}

// decode unmarshals body into v; a body that is not valid JSON counts as malformed.
func (e endpoint) decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &fusion.MalformedResponseError{Provider: e.id, Missing: []string{"body"}}
	}
	return nil
}

func (e endpoint) malformed(missing ...string) error {
	return &fusion.MalformedResponseError{Provider: e.id, Missing: missing}
}

func (e endpoint) wrap(err error) error {
	return &fusion.ProviderError{Provider: e.id, Err: err}
}

func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", fusion.ErrRateLimited, code)
	case code >= 500:
		return fmt.Errorf("%w: server error %d", fusion.ErrNetwork, code)
	case common.HasAny(strings.ToLower(string(body)), throttleMarkers...):
		return fmt.Errorf("%w: status %d with throttling message", fusion.ErrRateLimited, code)
	default:
		return fmt.Errorf("%w: %d", errUnexpected, code)
	}
}

func formatCoord(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

// putMetric sets a metric only when the upstream field was present.
func putMetric(m map[string]float64, name string, p *float64) {
	if p != nil {
		m[name] = *p
	}
}
