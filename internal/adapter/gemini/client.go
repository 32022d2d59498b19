package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"genflow/internal/domain"
	"genflow/internal/infra/config"
	"genflow/internal/infra/tracer"
)

// Client calls the Gemini REST API (generateContent + cachedContents).
// It implements domain.ModelAPI and domain.CacheAPI.
type Client struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Gemini client from provider config.
func New(cfg config.ProviderConfig, model string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "gemini"
	}
	return &Client{
		name:    name,
		model:   model,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.ModelAPI.
func (c *Client) Name() string { return c.name }

// Generate implements domain.ModelAPI. The response is read to completion
// before conversion; an empty or malformed body maps to ErrModelResponse.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	ctx, span := tracer.StartSpan(ctx, "gemini.generate",
		trace.WithAttributes(
			tracer.StringAttr("model", model),
			tracer.IntAttr("messages", len(req.Messages)),
		),
	)
	defer span.End()

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))

	start := time.Now()
	respBody, _, err := doJSONRequest(ctx, c.client, http.MethodPost, endpoint, body)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("gemini.Generate", err)
	}

	var wire geminiResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		err = fmt.Errorf("%w: decode: %s", domain.ErrModelResponse, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	out, err := fromGeminiResponse(wire, c.newCallID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	c.logger.Debug("model call completed",
		"model", model,
		"duration", time.Since(start),
		"tool_calls", len(out.Message.Calls),
		"total_tokens", out.Usage.TotalTokens,
	)
	tracer.SetOK(span)
	return out, nil
}

// newCallID assigns a correlation ID to a function call. The API does not
// return call IDs, so the client mints them.
func (c *Client) newCallID() string {
	return "call_" + ulid.Make().String()
}
