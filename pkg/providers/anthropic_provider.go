package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// AnthropicProvider adapts Anthropic's Messages API to the Provider
// interface. It is the reference external-AI adapter; additional providers
// implement the same interface against whatever client library fits them.
type AnthropicProvider struct {
	name         string
	client       anthropic.Client
	model        anthropic.Model
	capabilities map[types.TransformationKind]bool
}

// NewAnthropicProvider builds an AnthropicProvider. capabilities should name
// every TransformationKind this provider account is permitted to serve.
func NewAnthropicProvider(name, apiKey string, model anthropic.Model, capabilities map[types.TransformationKind]bool) *AnthropicProvider {
	return &AnthropicProvider{
		name:         name,
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:        model,
		capabilities: capabilities,
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Capabilities() map[types.TransformationKind]bool { return p.capabilities }

func (p *AnthropicProvider) Invoke(ctx context.Context, kind types.TransformationKind, params types.Params, input string) (Result, error) {
	prompt := promptFor(kind, params, input)

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, fmt.Sprintf("%s: invoke", p.name), err)
	}

	var output string
	for _, block := range message.Content {
		if text := block.Text; text != "" {
			output += text
		}
	}

	return Result{
		Output:    output,
		TokensIn:  message.Usage.InputTokens,
		TokensOut: message.Usage.OutputTokens,
	}, nil
}

// promptFor renders the transformation kind and parameters into a single
// instruction prompt. Kept deliberately simple: prompt engineering per kind
// is an external-provider concern, not part of the core pipeline.
func promptFor(kind types.TransformationKind, params types.Params, input string) string {
	return fmt.Sprintf("Transform the following content as a %s with parameters %v:\n\n%s", kind, params, input)
}
