// AngelaMos | 2026
// portal.go

package credit

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

	"github.com/google/uuid"

	"github.com/storywork/storywork-api/internal/config"
)

const (
	defaultPortalTimeout = 5 * time.Second
	maxPortalBody        = 1 << 20
)

var ErrPortalNotConfigured = errors.New("asm portal url not configured")

// RemoteOutcome is one of RemoteDebited, RemoteInsufficientFunds or
// RemoteUnavailable.
type RemoteOutcome interface {
	remoteOutcome()
}

type RemoteDebited struct {
	NewBalance int
}

type RemoteInsufficientFunds struct {
	Message string
}

type RemoteUnavailable struct {
	Err error
}

func (RemoteDebited) remoteOutcome()           {}
func (RemoteInsufficientFunds) remoteOutcome() {}
func (RemoteUnavailable) remoteOutcome()       {}

type RemoteSpendRequest struct {
	AgentID     string
	Amount      int
	Type        TransactionType
	Description string
}

// RemoteAuthority debits the ASM Portal balance of a linked agent.
type RemoteAuthority interface {
	Spend(ctx context.Context, req RemoteSpendRequest) RemoteOutcome
}

type PortalClient struct {
	client     *http.Client
	baseURL    string
	serviceKey string
	timeout    time.Duration
}

func NewPortalClient(cfg config.PortalConfig) *PortalClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultPortalTimeout
	}
	return &PortalClient{
		client:     &http.Client{},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		timeout:    timeout,
	}
}

type portalSpendRequest struct {
	AgentID        string `json:"agent_id"`
	Amount         int    `json:"amount"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	SourcePlatform string `json:"source_platform"`
}

type portalSpendResponse struct {
	Success    bool   `json:"success"`
	NewBalance int    `json:"newBalance"`
	Error      string `json:"error,omitempty"`
}

// Spend makes exactly one attempt. A timed out request is reported as
// RemoteUnavailable and is not retried.
func (c *PortalClient) Spend(
	ctx context.Context,
	req RemoteSpendRequest,
) RemoteOutcome {
	if c.baseURL == "" {
		return RemoteUnavailable{Err: ErrPortalNotConfigured}
	}

	payload, err := json.Marshal(portalSpendRequest{
		AgentID:        req.AgentID,
		Amount:         req.Amount,
		Type:           string(req.Type),
		Description:    req.Description,
		SourcePlatform: sourcePlatform,
	})
	if err != nil {
		return RemoteUnavailable{Err: fmt.Errorf("portal: marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/api/credits/spend",
		bytes.NewReader(payload),
	)
	if err != nil {
		return RemoteUnavailable{Err: fmt.Errorf("portal: create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Key", c.serviceKey)
	httpReq.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return RemoteUnavailable{Err: fmt.Errorf("portal: request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPortalBody))
	if err != nil {
		return RemoteUnavailable{Err: fmt.Errorf("portal: read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return RemoteUnavailable{Err: fmt.Errorf(
			"portal: unexpected status %s: %s",
			resp.Status,
			strings.TrimSpace(string(body)),
		)}
	}

	var decoded portalSpendResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return RemoteUnavailable{Err: fmt.Errorf("portal: decode response: %w", err)}
	}

	if !decoded.Success {
		return RemoteInsufficientFunds{Message: decoded.Error}
	}

	return RemoteDebited{NewBalance: decoded.NewBalance}
}

// Ping reports whether the portal answers at all. Any response below 500
// counts as reachable.
func (c *PortalClient) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrPortalNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("portal: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("portal: request failed: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("portal: unexpected status %s", resp.Status)
	}
	return nil
}

var _ RemoteAuthority = (*PortalClient)(nil)
