// Package claude wraps the Anthropic SDK behind a narrow vision-capable
// interface used by the area classifier. The wrapper keeps SDK types out of
// the engine and makes the collaborator trivially fakeable in tests.
package claude

import (
	"context"
	"encoding/base64"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the classifier-collaborator operations the engine uses.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// Config holds per-instance client settings. There is no package-level
// state: every classifier gets its own configured client.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint; empty means the SDK default.
	BaseURL string
	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
}

// MessageRequest is the client's own request type.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	Prompt    string
	// Image carries an optional raw image payload sent alongside the prompt.
	Image *ImagePayload
}

// ImagePayload is a raw image attached to a message.
type ImagePayload struct {
	MediaType string // e.g. "image/jpeg"
	Data      []byte
}

// MessageResponse is the client's own response type.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// TokenUsage tracks token consumption for cost logging.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client  sdk.Client
	limiter *rate.Limiter
}

// NewClient creates a new Anthropic-backed client from cfg.
func NewClient(cfg Config) Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &sdkClient{
		client:  sdk.NewClient(opts...),
		limiter: limiter,
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "claude: rate limit wait")
		}
	}

	blocks := []sdk.ContentBlockParamUnion{}
	if req.Image != nil {
		encoded := base64.StdEncoding.EncodeToString(req.Image.Data)
		blocks = append(blocks, sdk.NewImageBlockBase64(req.Image.MediaType, encoded))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "claude: create message")
	}

	return fromSDKMessage(msg), nil
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	var text string
	for _, b := range msg.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}

	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text,
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}
