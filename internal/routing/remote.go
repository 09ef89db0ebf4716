package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteConfig configures the HTTP policy router client.
type RemoteConfig struct {
	URL     string
	Timeout time.Duration // per-call deadline; routing must stay off the critical path
	// MTLS requires client certificates on the supplied Client transport;
	// with no Client given the flag only documents operator intent.
	MTLS   bool
	Client *http.Client
}

// DefaultRemoteTimeout is deliberately tight: a policy decision that cannot
// be made in this window falls through to the next router.
const DefaultRemoteTimeout = 15 * time.Millisecond

// RemoteRouter asks a policy service for a plan via POST <url>/route/plan and
// reports request outcomes to <url>/route/feedback.
type RemoteRouter struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemoteRouter builds a remote router client.
func NewRemoteRouter(cfg RemoteConfig) *RemoteRouter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &RemoteRouter{cfg: cfg, client: client}
}

func (r *RemoteRouter) Name() string { return "remote" }

func (r *RemoteRouter) Plan(ctx context.Context, req *RouteRequest) (*RoutePlan, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode route request: %v", ErrRouter, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	url := strings.TrimSuffix(r.cfg.URL, "/") + "/route/plan"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouter, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, req.Alias)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRouter, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var plan RoutePlan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("%w: decode plan: %v", ErrRouter, err)
	}
	plan.Backend = r.Name()
	return &plan, nil
}

// Feedback is the completion report sent back to the policy service.
type Feedback struct {
	RouteID    string `json:"route_id"`
	ModelID    string `json:"model_id,omitempty"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SendFeedback posts the report in a background goroutine; failures are
// dropped because feedback is advisory.
func (r *RemoteRouter) SendFeedback(fb Feedback) {
	go func() {
		body, err := json.Marshal(fb)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		url := strings.TrimSuffix(r.cfg.URL, "/") + "/route/feedback"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
}
