package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asimihsan/field_auth/internal/metrics"
	"github.com/asimihsan/field_auth/pkg/gate"
)

// DecisionPath is where the decision point accepts requests.
const DecisionPath = "/v1/decisions"

// Request is the body posted to the decision point.
type Request struct {
	Type  string         `json:"type"`
	Field string         `json:"field"`
	Args  map[string]any `json:"args,omitempty"`
}

// Response is the decision point's answer.
type Response struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// DeniedError carries the reason given by the decision point.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return e.Reason }

func (e *DeniedError) Is(target error) bool { return target == gate.ErrNotAuthorized }

// Authorizer asks an HTTP decision point about each field access.
// Decisions are not cached.
type Authorizer struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new remote authorizer.
func New(baseURL string, timeout time.Duration) *Authorizer {
	return &Authorizer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Func returns an authorize function whose answer is always a pending future.
func (a *Authorizer) Func() gate.AuthorizeFunc {
	return func(ctx context.Context, p gate.Params) any {
		return gate.Go(func() (any, error) {
			return a.Decide(ctx, p)
		})
	}
}

// Decide performs one round trip. It returns true, or a *DeniedError when
// the decision point gave a reason, or false.
func (a *Authorizer) Decide(ctx context.Context, p gate.Params) (any, error) {
	typeName, field := p.Field.TypeName, p.Field.FieldName
	timer := prometheus.NewTimer(metrics.RemoteLatency.WithLabelValues(typeName, field))
	defer timer.ObserveDuration()

	body, err := json.Marshal(Request{Type: typeName, Field: field, Args: p.Args})
	if err != nil {
		metrics.RemoteErrors.WithLabelValues(typeName, field, "encode_error").Inc()
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+DecisionPath, bytes.NewReader(body))
	if err != nil {
		metrics.RemoteErrors.WithLabelValues(typeName, field, "request_creation").Inc()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		metrics.RemoteErrors.WithLabelValues(typeName, field, "http_error").Inc()
		return nil, fmt.Errorf("%w: %v", gate.ErrDecisionSourceUnavailable, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			metrics.RemoteErrors.WithLabelValues(typeName, field, "body_close_error").Inc()
		}
	}()

	if resp.StatusCode != http.StatusOK {
		metrics.RemoteErrors.WithLabelValues(typeName, field, fmt.Sprintf("status_%d", resp.StatusCode)).Inc()
		return nil, fmt.Errorf("%w: unexpected status code %d", gate.ErrDecisionSourceUnavailable, resp.StatusCode)
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		metrics.RemoteErrors.WithLabelValues(typeName, field, "decode_error").Inc()
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	switch {
	case result.Allow:
		return true, nil
	case result.Reason != "":
		return &DeniedError{Reason: result.Reason}, nil
	default:
		return false, nil
	}
}
