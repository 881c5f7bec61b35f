// AngelaMos | 2026
// provider.go

package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

const (
	defaultMaxTokens   = 2000
	defaultTemperature = 0.7
	maxResponseBody    = 4 << 20
	maxAttempts        = 3
)

//nolint:staticcheck // ST1005: message is shown to users verbatim
var ErrNoProvider = errors.New("No AI provider configured")

// Request is a single-turn completion request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

var retryBackoff = 500 * time.Millisecond

// doWithRetry retries rate limited and 5xx responses. newReq must build a
// fresh request each time since the body is consumed.
func doWithRetry(
	ctx context.Context,
	client *http.Client,
	newReq func() (*http.Request, error),
) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff * time.Duration(1<<(attempt-1))):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryable(resp.StatusCode) || attempt == maxAttempts-1 {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		_ = resp.Body.Close()
		lastErr = fmt.Errorf("status %s", resp.Status)
	}
	return nil, lastErr
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// readBody reads a provider response and turns any non-2xx status into an
// error carrying the provider name and the response text.
func readBody(provider string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", provider, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf(
			"%s API error: unexpected status %s: %s",
			provider,
			resp.Status,
			strings.TrimSpace(string(body)),
		)
	}

	return body, nil
}
