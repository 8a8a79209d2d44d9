package llms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/agonhq/agon/pkg/config"
	"github.com/agonhq/agon/pkg/httpclient"
)

func newHTTPClient(cfg *config.LLMProviderConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	return httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(parser),
	)
}

// callTimeout derives the per-call context. The request timeout wins over the
// provider default when set.
func callTimeout(ctx context.Context, req Request, cfg *config.LLMProviderConfig) (context.Context, context.CancelFunc) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyError maps transport failures onto the package sentinel errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		if retryable.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// schemaInstruction renders a fallback instruction for providers without
// native structured output support.
func schemaInstruction(schema map[string]any) string {
	raw, err := json.Marshal(schema)
	if err != nil {
		return "Respond with a single valid JSON value and nothing else."
	}
	return fmt.Sprintf(
		"Respond with a single JSON value matching this JSON Schema, with no surrounding prose or code fences:\n%s",
		string(raw))
}
