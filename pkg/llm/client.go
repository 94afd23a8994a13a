package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

// LLMClient is the contract every trader's executor talks to: one chat call,
// one streaming call, one schema-enforced structured call, plus lifecycle.
// A trader never talks to the OpenAI SDK directly — only through this.
type LLMClient interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamResponse, error)
	ChatStructured(ctx context.Context, req *ChatRequest, target interface{}) (interface{}, error)
	GetConfig() *Config
	Close() error
}

// Client is the default LLMClient, talking to any OpenAI-compatible
// completions endpoint (an aggregator/router or a single provider directly).
type Client struct {
	config       *Config
	openaiClient *openai.Client
	logger       Logger
	retryHandler *RetryHandler
	httpClient   *http.Client

	// fallbackRouting is used for aggregator "auto" model aliases when the
	// caller's request doesn't specify its own RoutingConfig.
	fallbackRouting *RoutingConfig
}

// ClientOption configures optional client behaviour.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger       Logger
	retry        *RetryHandler
	httpClient   *http.Client
	openaiClient *openai.Client
}

// WithLogger injects a custom logger implementation.
func WithLogger(logger Logger) ClientOption {
	return func(opts *clientOptions) { opts.logger = logger }
}

// WithRetryHandler injects a custom retry handler.
func WithRetryHandler(handler *RetryHandler) ClientOption {
	return func(opts *clientOptions) { opts.retry = handler }
}

// WithHTTPClient replaces the default HTTP client used for raw (non-SDK)
// completion requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(opts *clientOptions) { opts.httpClient = client }
}

// WithOpenAIClient injects a pre-configured OpenAI client, primarily for tests.
func WithOpenAIClient(client *openai.Client) ClientOption {
	return func(opts *clientOptions) { opts.openaiClient = client }
}

// NewClient constructs an LLMClient from cfg. cfg is cloned and validated so
// later mutation of the caller's Config can't change an in-flight client's
// behaviour out from under it.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("llm: config cannot be nil")
	}
	clientCfg := cfg.Clone()
	if clientCfg == nil {
		return nil, errors.New("llm: failed to copy config")
	}
	if err := clientCfg.Validate(); err != nil {
		return nil, err
	}

	optState := clientOptions{}
	for _, opt := range opts {
		opt(&optState)
	}

	logger := optState.logger
	if logger == nil {
		logger = NewLogger(clientCfg.LogLevel)
	}

	retryHandler := optState.retry
	if retryHandler == nil {
		retryHandler = NewRetryHandler(RetryConfig{MaxRetries: clientCfg.MaxRetries})
	}

	oaClient := optState.openaiClient
	if oaClient == nil {
		built := buildOpenAIClient(clientCfg, optState.httpClient)
		oaClient = &built
	}

	c := &Client{
		config:       clientCfg,
		openaiClient: oaClient,
		logger:       logger,
		retryHandler: retryHandler,
		httpClient:   optState.httpClient,
		fallbackRouting: resolveAutoRouting(clientCfg),
	}
	return c, nil
}

func buildOpenAIClient(cfg *Config, httpClient *http.Client) openai.Client {
	oaOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	}
	if cfg.Timeout > 0 {
		oaOpts = append(oaOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	if httpClient != nil {
		oaOpts = append(oaOpts, option.WithHTTPClient(httpClient))
	}
	return openai.NewClient(oaOpts...)
}

// resolveAutoRouting picks the candidate-model pool an aggregator's
// "auto"-style alias falls back to when the config doesn't pin one itself.
//
// TODO: the aggregator's auto-routing alias has returned HTTP 500 in manual
// testing through 2025-11; the December cutover below is a scheduled re-check,
// not a permanent fork — collapse to the post-cutoff pool once confirmed stable.
func resolveAutoRouting(cfg *Config) *RoutingConfig {
	if !strings.EqualFold(cfg.DefaultModel, "zenmux/auto") {
		return nil
	}
	if cfg.RoutingDefaults != nil && len(cfg.RoutingDefaults.AvailableModels) > 0 {
		return cfg.RoutingDefaults
	}
	cutoff := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	if time.Now().UTC().Before(cutoff) {
		return &RoutingConfig{
			AvailableModels: []string{
				"kuaishou/kat-coder-pro-v1",
				"minimax/minimax-m2",
			},
			Preference: "balanced",
		}
	}
	return &RoutingConfig{
		AvailableModels: []string{
			"openai/gpt-5-nano",
			"google/gemini-2.5-flash-lite",
			"x-ai/grok-4-fast",
			"qwen/qwen3-235b-a22b-2507",
			"deepseek/deepseek-chat-v3.1",
		},
		Preference: "balanced",
	}
}

// Chat performs a single synchronous completion request.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil {
		return nil, errors.New("llm: request cannot be nil")
	}
	params, modelID, err := c.buildChatParams(req)
	if err != nil {
		return nil, err
	}

	// Aggregator auto-routing (and any explicit per-request Routing) isn't
	// modeled by the OpenAI SDK's params type, so it goes through the raw
	// HTTP path instead of the SDK call below.
	if strings.EqualFold(modelID, "zenmux/auto") || req.Routing != nil {
		reqCopy := *req
		if reqCopy.Routing == nil && c.fallbackRouting != nil {
			reqCopy.Routing = c.fallbackRouting
		}
		return c.chatRaw(ctx, &reqCopy, modelID)
	}

	start := time.Now()
	c.logger.Info(ctx, "llm chat request", Fields{
		"model":    modelID,
		"messages": len(req.Messages),
		"prompt":   renderMessageDigest(req.Messages),
	})

	var completion *openai.ChatCompletion
	err = c.retryHandler.Do(ctx, func() error {
		resp, callErr := c.openaiClient.Chat.Completions.New(ctx, params)
		if callErr != nil {
			c.logger.Error(ctx, fmt.Errorf("chat completion failed: %w", callErr), Fields{"model": modelID})
			return callErr
		}
		completion = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := convertCompletion(completion)
	var respText string
	if len(result.Choices) > 0 {
		respText = strings.TrimSpace(result.Choices[0].Message.Content)
	}
	c.logger.Info(ctx, "llm chat success", Fields{
		"model":             modelID,
		"duration_ms":       time.Since(start).Milliseconds(),
		"prompt_tokens":     result.Usage.PromptTokens,
		"completion_tokens": result.Usage.CompletionTokens,
		"response":          respText,
	})
	return result, nil
}

// chatRaw posts a hand-built JSON body directly to the completions endpoint,
// bypassing the OpenAI SDK's request params, so extensions the SDK doesn't
// model (aggregator routing config, in particular) still reach the wire.
func (c *Client) chatRaw(ctx context.Context, req *ChatRequest, modelID string) (*ChatResponse, error) {
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.config.Timeout}
	}

	body := map[string]any{
		"model":    modelID,
		"messages": buildRawMessages(req.Messages),
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxCompletionTokens != nil {
		body["max_completion_tokens"] = *req.MaxCompletionTokens
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.Routing != nil {
		body["model_routing_config"] = req.Routing
	}
	if rfBody, ok := rawResponseFormat(req.ResponseFormat); ok {
		body["response_format"] = rfBody
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	data, _ := json.Marshal(body)

	var completion *openai.ChatCompletion
	if err := c.retryHandler.Do(ctx, func() error {
		httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, callErr := c.httpClient.Do(httpReq)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Wrap as openai.Error so the retry policy recognizes retriable codes.
			return &openai.Error{StatusCode: resp.StatusCode}
		}
		raw, _ := io.ReadAll(resp.Body)
		var parsed openai.ChatCompletion
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("llm: decode completion: %w", err)
		}
		completion = &parsed
		return nil
	}); err != nil {
		// Unwrap to avoid leaking an openai.Error with nil Request/Response,
		// whose Error() method can panic on those nil fields.
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("llm: http %d", apiErr.StatusCode)
		}
		return nil, err
	}
	return convertCompletion(completion), nil
}

// buildRawMessages renders Message values into the wire shape chatRaw posts,
// preserving the role-specific optional fields the OpenAI SDK types carry.
func buildRawMessages(msgs []Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = "user"
		}
		item := map[string]any{"role": role}
		if m.Content != "" {
			item["content"] = m.Content
		}
		switch role {
		case "function":
			if m.Name != "" {
				item["name"] = m.Name
			}
		case "tool":
			if m.ToolCallID != "" {
				item["tool_call_id"] = m.ToolCallID
			}
		default:
			if m.Name != "" {
				item["name"] = m.Name
			}
		}
		out = append(out, item)
	}
	return out
}

func rawResponseFormat(rf *ResponseFormat) (map[string]any, bool) {
	if rf == nil {
		return nil, false
	}
	switch strings.ToLower(strings.TrimSpace(rf.Type)) {
	case "json_schema":
		schemaBody := map[string]any{
			"name":   orDefault(rf.Name, "schema"),
			"schema": rf.Schema,
		}
		if rf.Strict != nil {
			schemaBody["strict"] = *rf.Strict
		}
		if rf.Description != "" {
			schemaBody["description"] = rf.Description
		}
		return map[string]any{"type": "json_schema", "json_schema": schemaBody}, true
	case "json_object":
		return map[string]any{"type": "json_object"}, true
	default:
		return nil, false
	}
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// renderMessageDigest renders a compact one-line summary of a message list
// for log lines, so a cycle's full prompt is traceable without dumping the
// raw Message slice into structured logging fields.
func renderMessageDigest(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(msgs))
	for i, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role == "" {
			role = "user"
		}
		parts = append(parts, fmt.Sprintf("[%d] role=%s content=%s", i, role, strings.TrimSpace(m.Content)))
	}
	return strings.Join(parts, " | ")
}

// ChatStream initiates a streaming completion call; the returned channel
// closes once the stream is exhausted or errors.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamResponse, error) {
	if req == nil {
		return nil, errors.New("llm: request cannot be nil")
	}
	streamReq := *req
	streamReq.Stream = true
	params, modelID, err := c.buildChatParams(&streamReq)
	if err != nil {
		return nil, err
	}

	stream := c.openaiClient.Chat.Completions.NewStreaming(ctx, params)
	if stream == nil {
		return nil, errors.New("llm: streaming not supported")
	}

	out := make(chan StreamResponse)
	go pumpStream(ctx, c.logger, stream, modelID, out)
	return out, nil
}

func pumpStream(ctx context.Context, logger Logger, stream *ssestream.Stream[openai.ChatCompletionChunk], modelID string, out chan<- StreamResponse) {
	defer close(out)
	defer stream.Close()
	for stream.Next() {
		out <- convertChunk(stream.Current())
	}
	if err := stream.Err(); err != nil {
		logger.Error(ctx, fmt.Errorf("stream failed: %w", err), Fields{"model": modelID})
	}
}

// ChatStructured enforces a JSON-schema response format derived from target's
// type and decodes the model's reply directly into target. It returns the
// underlying *ChatResponse (usage, model, raw reply) alongside the decode.
func (c *Client) ChatStructured(ctx context.Context, req *ChatRequest, target interface{}) (interface{}, error) {
	if target == nil {
		return nil, errors.New("llm: structured target cannot be nil")
	}
	value := reflect.ValueOf(target)
	if value.Kind() != reflect.Ptr || value.IsNil() {
		return nil, errors.New("llm: structured target must be a pointer")
	}

	schema, err := GenerateSchema(target)
	if err != nil {
		return nil, err
	}

	strict := true
	structuredReq := *req
	structuredReq.ResponseFormat = &ResponseFormat{
		Type:        "json_schema",
		Name:        schemaNameFor(value),
		Schema:      schema,
		Description: "Structured response",
		Strict:      &strict,
	}

	resp, err := c.Chat(ctx, &structuredReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty structured response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := ParseStructured(content, target); err != nil {
		c.logger.Error(ctx, fmt.Errorf("parse structured response: %w", err), Fields{"model": resp.Model})
		return nil, err
	}
	return resp, nil
}

// GetConfig returns an immutable copy of the client configuration.
func (c *Client) GetConfig() *Config {
	return c.config.Clone()
}

// Close releases idle connections held by the client's HTTP transport.
func (c *Client) Close() error {
	if c.httpClient == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

func (c *Client) buildChatParams(req *ChatRequest) (openai.ChatCompletionNewParams, string, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, "", errors.New("llm: request requires at least one message")
	}

	modelAlias := strings.TrimSpace(req.Model)
	if modelAlias == "" {
		modelAlias = c.config.DefaultModel
	}
	modelCfg, ok := c.config.Model(modelAlias)
	if !ok {
		modelCfg = ModelConfig{ModelName: modelAlias}
	}
	modelID := ResolveModelID(modelAlias, modelCfg)

	messageParams, err := buildMessageParams(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, "", err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: messageParams,
	}
	if rf, ok, err := toResponseFormatParam(req.ResponseFormat); err != nil {
		return openai.ChatCompletionNewParams{}, "", err
	} else if ok {
		params.ResponseFormat = rf
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if modelCfg.Temperature != nil {
		params.Temperature = openai.Float(*modelCfg.Temperature)
	}
	if req.MaxCompletionTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxCompletionTokens))
	} else if modelCfg.MaxCompletionTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*modelCfg.MaxCompletionTokens))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	} else if modelCfg.TopP != nil {
		params.TopP = openai.Float(*modelCfg.TopP)
	}
	return params, modelID, nil
}

func buildMessageParams(msgs []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			param := openai.SystemMessage(m.Content)
			if m.Name != "" && param.OfSystem != nil {
				param.OfSystem.Name = openai.String(m.Name)
			}
			result = append(result, param)
		case "developer":
			result = append(result, openai.DeveloperMessage(m.Content))
		case "assistant":
			result = append(result, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		case "tool":
			result = append(result, openai.ToolMessage(m.Content, m.ToolCallID))
		case "function":
			result = append(result, openai.ChatCompletionMessageParamOfFunction(m.Content, m.Name))
		default:
			param := openai.UserMessage(m.Content)
			if m.Name != "" && param.OfUser != nil {
				param.OfUser.Name = openai.String(m.Name)
			}
			result = append(result, param)
		}
	}
	return result, nil
}

func toResponseFormatParam(format *ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, bool, error) {
	var empty openai.ChatCompletionNewParamsResponseFormatUnion
	if format == nil || strings.EqualFold(format.Type, "text") || format.Type == "" {
		return empty, false, nil
	}

	switch strings.ToLower(format.Type) {
	case "json_object":
		val := shared.NewResponseFormatJSONObjectParam()
		return openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &val}, true, nil
	case "json_schema":
		schema, ok := format.Schema.(map[string]interface{})
		if !ok {
			return empty, false, fmt.Errorf("llm: json_schema requires map schema")
		}
		jsonSchema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   orDefault(format.Name, "structured_output"),
			Schema: schema,
		}
		if format.Strict != nil {
			jsonSchema.Strict = openai.Bool(*format.Strict)
		}
		if desc := strings.TrimSpace(format.Description); desc != "" {
			jsonSchema.Description = openai.String(desc)
		}
		val := shared.ResponseFormatJSONSchemaParam{JSONSchema: jsonSchema}
		val.Type = val.Type.Default()
		return openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONSchema: &val}, true, nil
	default:
		return empty, false, fmt.Errorf("llm: unsupported response format %q", format.Type)
	}
}

func convertCompletion(resp *openai.ChatCompletion) *ChatResponse {
	if resp == nil {
		return nil
	}
	result := &ChatResponse{
		ID:          resp.ID,
		Model:       resp.Model,
		Created:     resp.Created,
		RawJSON:     resp.RawJSON(),
		Fingerprint: resp.SystemFingerprint,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if resp.ServiceTier != "" {
		result.Tier = string(resp.ServiceTier)
	}
	for _, choice := range resp.Choices {
		result.Choices = append(result.Choices, Choice{
			Index:        int(choice.Index),
			Message:      convertMessage(choice.Message),
			FinishReason: choice.FinishReason,
			ToolCalls:    convertToolCalls(choice.Message.ToolCalls),
		})
	}
	return result
}

func convertChunk(chunk openai.ChatCompletionChunk) StreamResponse {
	resp := StreamResponse{ID: chunk.ID, Model: chunk.Model, Created: chunk.Created}
	if chunk.Usage.TotalTokens > 0 {
		resp.Usage = &Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}
	for _, choice := range chunk.Choices {
		var toolCalls []ToolCall
		for _, call := range choice.Delta.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:       call.ID,
				Type:     string(call.Type),
				Function: FunctionCall{Name: call.Function.Name, Arguments: call.Function.Arguments},
			})
		}
		resp.Choices = append(resp.Choices, StreamChoice{
			Index: int(choice.Index),
			Delta: Delta{
				Role:      choice.Delta.Role,
				Content:   choice.Delta.Content,
				ToolCalls: toolCalls,
			},
			FinishReason: choice.FinishReason,
		})
	}
	return resp
}

func convertMessage(msg openai.ChatCompletionMessage) Message {
	result := Message{Role: string(msg.Role), Content: msg.Content}
	if msg.FunctionCall.Name != "" || msg.FunctionCall.Arguments != "" {
		result.ToolCallID = msg.FunctionCall.Name
	}
	return result
}

func convertToolCalls(calls []openai.ChatCompletionMessageToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		result = append(result, ToolCall{
			ID:       call.ID,
			Type:     string(call.Type),
			Function: FunctionCall{Name: call.Function.Name, Arguments: call.Function.Arguments},
		})
	}
	return result
}

// schemaNameFor derives the schema's declared name from target's (possibly
// pointer) type, matched against the ModelConfig the request ultimately uses.
func schemaNameFor(val reflect.Value) string {
	t := val.Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return strings.ToLower(t.Name())
}
