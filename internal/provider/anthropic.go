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

// defaultAnthropicVersion is used when a ProviderConfig doesn't set one
// explicitly. Anthropic requires this header on every request; it's how
// they version the API instead of versioning the URL path.
const defaultAnthropicVersion = "2023-06-01"

// AnthropicAdapter implements Adapter for Anthropic's Messages API. The
// canonical schema is modeled directly on this API, so translation here is
// closer to validate-and-forward than the reshaping Gemini and OpenAI need;
// streaming re-emits upstream named events after normalizing them to the
// canonical vocabulary.
type AnthropicAdapter struct {
	cfg    Config
	client *http.Client
}

func NewAnthropicAdapter(cfg Config, client *http.Client) *AnthropicAdapter {
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = defaultAnthropicVersion
	}
	return &AnthropicAdapter{cfg: cfg, client: client}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	StopSeq     []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

// anthropicStreamEvent is a wide wrapper big enough to decode any of
// Anthropic's named SSE event payloads; fields irrelevant to a given
// event type stay at their zero value.
type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Message      *anthropicEventMessage `json:"message,omitempty"`
	Index        *int                   `json:"index,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicEventDelta   `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicEventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

const defaultMaxTokens = 1024

func toAnthropicRequest(req *canonical.Request) *anthropicRequest {
	ar := &anthropicRequest{Model: req.Model, Temperature: req.Temperature, TopP: req.TopP, StopSeq: req.Stop}

	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == canonical.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if len(systemParts) > 0 {
		ar.System = strings.Join(systemParts, "\n")
	}

	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	} else {
		ar.MaxTokens = defaultMaxTokens
	}
	return ar
}

func anthropicStopReason(reason string) canonical.StopReason {
	switch reason {
	case "end_turn", "":
		return canonical.StopEndTurn
	case "max_tokens":
		return canonical.StopMaxTokens
	case "stop_sequence":
		return canonical.StopStopSequence
	default:
		return canonical.StopEndTurn
	}
}

// ---------------------------------------------------------------------------
// Non-streaming: Chat
// ---------------------------------------------------------------------------

func (a *AnthropicAdapter) Chat(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("marshaling anthropic request: %w", err))
	}

	url := a.cfg.APIBase + "messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("creating anthropic request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", a.cfg.AnthropicVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, providerErrorFromBody(httpResp.StatusCode, httpResp.Body)
	}

	var anResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&anResp); err != nil {
		return nil, NewInternal(fmt.Errorf("decoding anthropic response: %w", err))
	}

	var text string
	for _, block := range anResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return &canonical.Response{
		ID:         anResp.ID,
		Model:      anResp.Model,
		Content:    []canonical.ContentBlock{{Type: "text", Text: text}},
		StopReason: anthropicStopReason(anResp.StopReason),
		Usage: canonical.Usage{
			InputTokens:  anResp.Usage.InputTokens,
			OutputTokens: anResp.Usage.OutputTokens,
		},
	}, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatStream
// ---------------------------------------------------------------------------

// ChatStream re-emits Anthropic's own SSE events after normalizing names
// and field shapes to the canonical vocabulary — the canonical schema is
// already Anthropic-shaped, so this is closer to pass-through than the
// Gemini/OpenAI adapters' heavier translation.
func (a *AnthropicAdapter) ChatStream(ctx context.Context, req *canonical.Request) (<-chan canonical.Event, error) {
	anReq := toAnthropicRequest(req)
	anReq.Stream = true

	body, err := json.Marshal(anReq)
	if err != nil {
		return nil, NewInternal(fmt.Errorf("marshaling anthropic request: %w", err))
	}

	url := a.cfg.APIBase + "messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("creating anthropic request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", a.cfg.AnthropicVersion)

	httpResp, err := a.client.Do(httpReq)
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
			jsonData := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				emit(errorEvent(NewUpstreamTransport(fmt.Errorf("decoding anthropic stream event: %w", err))))
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message == nil {
					continue
				}
				if !emit(canonical.Event{
					Type: canonical.EventMessageStart,
					Message: &canonical.Response{
						ID:    event.Message.ID,
						Model: event.Message.Model,
						Usage: canonical.Usage{InputTokens: event.Message.Usage.InputTokens},
					},
				}) {
					return
				}

			case "content_block_start":
				if !emit(canonical.Event{Type: canonical.EventContentBlockStart, Index: event.Index, Block: &canonical.ContentBlock{Type: "text"}}) {
					return
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				if !emit(canonical.Event{Type: canonical.EventContentBlockDelta, Index: event.Index, TextDelta: event.Delta.Text}) {
					return
				}

			case "content_block_stop":
				if !emit(canonical.Event{Type: canonical.EventContentBlockStop, Index: event.Index}) {
					return
				}

			case "message_delta":
				usage := canonical.Usage{}
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
				var stop canonical.StopReason
				if event.Delta != nil {
					stop = anthropicStopReason(event.Delta.StopReason)
				}
				if !emit(canonical.Event{Type: canonical.EventMessageDelta, StopReason: stop, Usage: &usage}) {
					return
				}

			case "message_stop":
				emit(canonical.Event{Type: canonical.EventMessageStop})
				return

			// "ping" and any other Anthropic event types carry no data we
			// need to forward.
			default:
			}
		}

		if err := scanner.Err(); err != nil {
			emit(errorEvent(NewUpstreamTransport(fmt.Errorf("reading anthropic stream: %w", err))))
		}
	}()

	return ch, nil
}

// ---------------------------------------------------------------------------
// Catalog + health
// ---------------------------------------------------------------------------

func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models := make([]ModelInfo, 0, len(a.cfg.Models))
	for _, m := range a.cfg.Models {
		models = append(models, ModelInfo{ID: m, OwnedBy: a.Name()})
	}
	return models, nil
}

func (a *AnthropicAdapter) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBase+"models", nil)
	if err != nil {
		return HealthStatus{State: HealthUnhealthy, LastError: Redact(err.Error())}
	}
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", a.cfg.AnthropicVersion)

	httpResp, err := a.client.Do(httpReq)
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
