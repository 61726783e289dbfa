// Package evaluator is the external evaluation service: Claude-backed KYC
// stage agents, document field extraction and the validation LLM.
package evaluator

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const systemPrompt = "You are a KYC compliance analyst at a regulated financial institution. Respond with strict JSON only."

type failureClass int

const (
	failureNone failureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

// LLM generates a text reply for a prompt.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// VisionLLM additionally reads an image attached to the prompt.
type VisionLLM interface {
	LLM
	GenerateFromImage(ctx context.Context, prompt, mediaType string, image []byte) (string, error)
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// ModelOptions tune the Claude request.
type ModelOptions struct {
	Model     string
	MaxTokens int64
}

func (o ModelOptions) withDefaults() ModelOptions {
	if strings.TrimSpace(o.Model) == "" {
		o.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	return o
}

type AnthropicCaller struct {
	messages AnthropicMessager
	opts     ModelOptions
}

// NewAnthropicCallerFromEnv reads ANTHROPIC_API_KEY.
func NewAnthropicCallerFromEnv(opts ModelOptions) (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, eris.New("ANTHROPIC_API_KEY not configured")
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), opts: opts.withDefaults()}, nil
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return a.send(ctx, anthropic.NewTextBlock(prompt))
}

func (a *AnthropicCaller) GenerateFromImage(ctx context.Context, prompt, mediaType string, image []byte) (string, error) {
	return a.send(ctx,
		anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(image)),
		anthropic.NewTextBlock(prompt),
	)
}

func (a *AnthropicCaller) send(ctx context.Context, blocks ...anthropic.ContentBlockParamUnion) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.opts.Model),
		MaxTokens:   a.opts.MaxTokens,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func classifyTransportError(err error) failureClass {
	if err == nil {
		return failureNone
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "status=5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4") || strings.Contains(msg, "status=4"):
		return failureClient
	default:
		return failureServer
	}
}

func retryable(class failureClass) bool {
	return class == failureTimeout || class == failureRateLimit || class == failureServer
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
