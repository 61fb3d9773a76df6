package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/relaygw/aigateway/internal/canonical"
)

// OpenAIAdapter implements Adapter for OpenAI's chat completions API.
// Canonical messages map 1:1 onto OpenAI's role+content shape, so this
// adapter is the simplest of the three request translations — the bulk of
// the work is in decoding the chat.completion.chunk streaming shape.
type OpenAIAdapter struct {
	cfg    Config
	client *http.Client
}

func NewOpenAIAdapter(cfg Config, client *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{cfg: cfg, client: client}
}

func (o *OpenAIAdapter) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage"`
}

type openAIStreamDelta struct {
	Content string `json:"content"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openAIStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage"`
}

func toOpenAIRequest(req *canonical.Request) *openAIRequest {
	or := &openAIRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	for _, msg := range req.Messages {
		or.Messages = append(or.Messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return or
}

func openAIFinishReason(reason string) canonical.StopReason {
	switch reason {
	case "stop":
		return canonical.StopEndTurn
	case "length":
		return canonical.StopMaxTokens
	case "content_filter":
		return canonical.StopStopSequence
	default:
		return canonical.StopEndTurn
	}
}

// ---------------------------------------------------------------------------
// Non-streaming: Chat
// ---------------------------------------------------------------------------

func (o *OpenAIAdapter) Chat(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("marshaling openai request: %w", err))
	}

	url := o.cfg.APIBase + "chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("creating openai request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, providerErrorFromBody(httpResp.StatusCode, httpResp.Body)
	}

	var oaResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaResp); err != nil {
		return nil, NewInternal(fmt.Errorf("decoding openai response: %w", err))
	}
	if len(oaResp.Choices) == 0 {
		return nil, NewInternal(fmt.Errorf("openai returned no choices"))
	}

	choice := oaResp.Choices[0]
	resp := &canonical.Response{
		ID:         oaResp.ID,
		Model:      oaResp.Model,
		Content:    []canonical.ContentBlock{{Type: "text", Text: choice.Message.Content}},
		StopReason: openAIFinishReason(choice.FinishReason),
	}
	if oaResp.Usage != nil {
		resp.Usage = canonical.Usage{
			InputTokens:  oaResp.Usage.PromptTokens,
			OutputTokens: oaResp.Usage.CompletionTokens,
		}
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatStream
// ---------------------------------------------------------------------------

// ChatStream translates OpenAI's chat.completion.chunk SSE frames into the
// canonical event grammar. The sentinel frame "data: [DONE]" triggers
// message_stop if the stream hasn't already closed out via finish_reason.
func (o *OpenAIAdapter) ChatStream(ctx context.Context, req *canonical.Request) (<-chan canonical.Event, error) {
	oaReq := toOpenAIRequest(req)
	oaReq.Stream = true

	body, err := json.Marshal(oaReq)
	if err != nil {
		return nil, NewInternal(fmt.Errorf("marshaling openai request: %w", err))
	}

	url := o.cfg.APIBase + "chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("creating openai request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, providerErrorFromBody(httpResp.StatusCode, httpResp.Body)
	}

	ch := make(chan canonical.Event)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		index := 0
		started := false
		stopped := false

		emit := func(ev canonical.Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")

			if payload == "[DONE]" {
				if !stopped {
					if started {
						idx := index
						emit(canonical.Event{Type: canonical.EventContentBlockStop, Index: &idx})
					}
					emit(canonical.Event{Type: canonical.EventMessageStop})
				}
				return
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				emit(errorEvent(NewUpstreamTransport(fmt.Errorf("decoding openai stream chunk: %w", err))))
				return
			}

			if !started {
				started = true
				if !emit(canonical.Event{Type: canonical.EventMessageStart, Message: &canonical.Response{ID: chunk.ID, Model: chunk.Model}}) {
					return
				}
				idx := 0
				if !emit(canonical.Event{Type: canonical.EventContentBlockStart, Index: &idx, Block: &canonical.ContentBlock{Type: "text"}}) {
					return
				}
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				idx := index
				if !emit(canonical.Event{Type: canonical.EventContentBlockDelta, Index: &idx, TextDelta: choice.Delta.Content}) {
					return
				}
			}

			if choice.FinishReason != nil {
				idx := index
				if !emit(canonical.Event{Type: canonical.EventContentBlockStop, Index: &idx}) {
					return
				}
				usage := canonical.Usage{}
				if chunk.Usage != nil {
					usage = canonical.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
				}
				if !emit(canonical.Event{Type: canonical.EventMessageDelta, StopReason: openAIFinishReason(*choice.FinishReason), Usage: &usage}) {
					return
				}
				emit(canonical.Event{Type: canonical.EventMessageStop})
				stopped = true
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(errorEvent(NewUpstreamTransport(fmt.Errorf("reading openai stream: %w", err))))
		}
	}()

	return ch, nil
}

// ---------------------------------------------------------------------------
// Catalog + health
// ---------------------------------------------------------------------------

func (o *OpenAIAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models := make([]ModelInfo, 0, len(o.cfg.Models))
	for _, m := range o.cfg.Models {
		models = append(models, ModelInfo{ID: m, OwnedBy: o.Name()})
	}
	return models, nil
}

func (o *OpenAIAdapter) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.APIBase+"models", nil)
	if err != nil {
		return HealthStatus{State: HealthUnhealthy, LastError: Redact(err.Error())}
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return HealthStatus{State: HealthUnhealthy, LastError: Redact(err.Error())}
	}
	defer httpResp.Body.Close()

	latency := time.Since(start).Milliseconds()
	if httpResp.StatusCode != http.StatusOK {
		return HealthStatus{State: HealthUnhealthy, LatencyMS: &latency, LastError: fmt.Sprintf("status %d", httpResp.StatusCode)}
	}
	return HealthStatus{State: HealthHealthy, LatencyMS: &latency}
}
