package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// HTTPProvider adapts a generic JSON-over-HTTP completion endpoint
// (OpenAI-compatible REST providers, self-hosted inference gateways) to the
// Provider interface. Plain net/http is used deliberately: no pack example
// carries a dedicated client for this family of API, and the request shape
// here is a minimal, provider-agnostic subset (prompt in, text out) rather
// than any one vendor's SDK surface.
type HTTPProvider struct {
	name         string
	endpoint     string
	apiKey       string
	client       *http.Client
	capabilities map[types.TransformationKind]bool
}

// NewHTTPProvider builds an HTTPProvider with a bounded per-call timeout,
// matching spec.md §5's "provider calls MUST run under a hard timeout".
func NewHTTPProvider(name, endpoint, apiKey string, timeout time.Duration, capabilities map[types.TransformationKind]bool) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:         name,
		endpoint:     endpoint,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		capabilities: capabilities,
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Capabilities() map[types.TransformationKind]bool { return p.capabilities }

type httpProviderRequest struct {
	Kind       string                 `json:"kind"`
	Parameters map[string]interface{} `json:"parameters"`
	Input      string                 `json:"input"`
}

type httpProviderResponse struct {
	Output    string `json:"output"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
}

func (p *HTTPProvider) Invoke(ctx context.Context, kind types.TransformationKind, params types.Params, input string) (Result, error) {
	body, err := json.Marshal(httpProviderRequest{Kind: string(kind), Parameters: params, Input: input})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Fatal, fmt.Sprintf("%s: marshal request", p.name), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Fatal, fmt.Sprintf("%s: build request", p.name), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, fmt.Sprintf("%s: call provider", p.name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Result{}, apperr.New(apperr.Transient, fmt.Sprintf("%s: transient status %d", p.name, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return Result{}, apperr.New(apperr.InvalidInput, fmt.Sprintf("%s: rejected with status %d", p.name, resp.StatusCode))
	}

	var out httpProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, fmt.Sprintf("%s: decode response", p.name), err)
	}

	return Result{Output: out.Output, TokensIn: out.TokensIn, TokensOut: out.TokensOut}, nil
}
