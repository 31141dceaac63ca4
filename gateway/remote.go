package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// RemoteProtector delegates decisions to an external protection service.
// Calls go through a circuit breaker so a failing service is skipped quickly.
type RemoteProtector struct {
	endpoint string
	key      string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewRemoteProtector creates a protector posting to endpoint with the service key.
func NewRemoteProtector(endpoint, key string, client *http.Client) *RemoteProtector {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &RemoteProtector{
		endpoint: endpoint,
		key:      key,
		client:   client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "protection",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}),
	}
}

type remoteRequest struct {
	Request
	Characteristics map[string]string `json:"characteristics"`
}

func (p *RemoteProtector) Protect(ctx context.Context, req Request) (Decision, error) {
	result, err := p.breaker.Execute(func() (any, error) {
		return p.call(ctx, req)
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrProtectorUnavailable, err)
	}
	return result.(Decision), nil
}

// State exposes the breaker state for health reporting.
func (p *RemoteProtector) State() string {
	return p.breaker.State().String()
}

func (p *RemoteProtector) call(ctx context.Context, req Request) (Decision, error) {
	payload, err := json.Marshal(remoteRequest{
		Request:         req,
		Characteristics: map[string]string{"userIdOrIp": req.Key},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to encode protection request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to create protection request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.key)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("protection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("protection service returned status %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("failed to decode protection decision: %w", err)
	}
	if decision.Conclusion != "ALLOW" && decision.Conclusion != "DENY" {
		return Decision{}, fmt.Errorf("unknown protection conclusion %q", decision.Conclusion)
	}
	return decision, nil
}
