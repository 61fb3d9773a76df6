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

// GeminiAdapter implements Adapter for Google's Gemini API. It translates
// canonical requests into Gemini's `contents`/`generationConfig` shape,
// makes the HTTP call, and translates the response back.
//
// cfg.APIBase must be the versioned API root only, e.g.
// "https://generativelanguage.googleapis.com/v1beta/" — every request URL
// appends "models/..." itself, so a base_url that already includes a
// trailing "models/" segment would double it.
type GeminiAdapter struct {
	cfg    Config
	client *http.Client
}

// NewGeminiAdapter constructs a GeminiAdapter. The *http.Client is injected
// rather than created internally so tests can pass a client pointed at a
// fixture server, and so main.go can configure one client's transport
// (timeouts, connection pooling) for every adapter that shares it.
func NewGeminiAdapter(cfg Config, client *http.Client) *GeminiAdapter {
	return &GeminiAdapter{cfg: cfg, client: client}
}

func (g *GeminiAdapter) Name() string { return "gemini" }

// ---------------------------------------------------------------------------
// Gemini wire types (unexported — only this file uses them)
// ---------------------------------------------------------------------------

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toGeminiRequest translates a canonical.Request into Gemini's shape: system
// messages are pulled out into systemInstruction, assistant becomes "model",
// and max_tokens/temperature/top_p move under generationConfig.
func toGeminiRequest(req *canonical.Request) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == canonical.RoleSystem {
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, geminiPart{Text: msg.Content})
			}
			continue
		}

		role := string(msg.Role)
		if msg.Role == canonical.RoleAssistant {
			role = "model"
		}

		gr.Contents = append(gr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil {
		gc := &geminiGenerationConfig{}
		if req.MaxTokens > 0 {
			gc.MaxOutputTokens = req.MaxTokens
		}
		if req.Temperature != nil {
			gc.Temperature = *req.Temperature
		}
		if req.TopP != nil {
			gc.TopP = *req.TopP
		}
		gr.GenerationConfig = gc
	}

	return gr
}

func geminiFinishReason(reason string) canonical.StopReason {
	switch reason {
	case "STOP":
		return canonical.StopEndTurn
	case "MAX_TOKENS":
		return canonical.StopMaxTokens
	case "SAFETY", "RECITATION":
		return canonical.StopStopSequence
	default:
		return canonical.StopEndTurn
	}
}

// ---------------------------------------------------------------------------
// Non-streaming: Chat
// ---------------------------------------------------------------------------

func (g *GeminiAdapter) Chat(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, NewInternal(fmt.Errorf("marshaling gemini request: %w", err))
	}

	url := fmt.Sprintf("%smodels/%s:generateContent?key=%s", g.cfg.APIBase, req.Model, g.cfg.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("creating gemini request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, providerErrorFromBody(httpResp.StatusCode, httpResp.Body)
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&geminiResp); err != nil {
		return nil, NewInternal(fmt.Errorf("decoding gemini response: %w", err))
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, NewInternal(fmt.Errorf("gemini returned no candidates"))
	}

	candidate := geminiResp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	resp := &canonical.Response{
		Model:      req.Model,
		Content:    []canonical.ContentBlock{{Type: "text", Text: text.String()}},
		StopReason: geminiFinishReason(candidate.FinishReason),
	}

	if geminiResp.UsageMetadata != nil {
		resp.Usage = canonical.Usage{
			InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
			OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		}
	}

	return resp, nil
}

// ---------------------------------------------------------------------------
// Streaming: ChatStream
// ---------------------------------------------------------------------------

// ChatStream sends a streaming request to Gemini's streamGenerateContent
// endpoint (alt=sse) and translates each upstream SSE frame into the
// canonical event grammar: one message_start + content_block_start before
// any deltas, one content_block_delta per frame with text, then
// content_block_stop + message_delta + message_stop once finishReason
// appears.
func (g *GeminiAdapter) ChatStream(ctx context.Context, req *canonical.Request) (<-chan canonical.Event, error) {
	geminiReq := toGeminiRequest(req)

	body, err := json.Marshal(geminiReq)
	if err != nil {
		return nil, NewInternal(fmt.Errorf("marshaling gemini request: %w", err))
	}

	url := fmt.Sprintf("%smodels/%s:streamGenerateContent?alt=sse&key=%s", g.cfg.APIBase, req.Model, g.cfg.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewInternal(fmt.Errorf("creating gemini request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Do NOT defer Body.Close() here — the goroutine below owns the body
	// for the life of the stream and closes it when the stream ends or is
	// cancelled.
	httpResp, err := g.client.Do(httpReq)
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

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(jsonData), &geminiResp); err != nil {
				emit(errorEvent(NewUpstreamTransport(fmt.Errorf("decoding gemini stream event: %w", err))))
				return
			}

			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			if !started {
				idx := 0
				started = true
				if !emit(canonical.Event{Type: canonical.EventMessageStart, Message: &canonical.Response{Model: req.Model}}) {
					return
				}
				if !emit(canonical.Event{Type: canonical.EventContentBlockStart, Index: &idx, Block: &canonical.ContentBlock{Type: "text"}}) {
					return
				}
			}

			var delta string
			for _, part := range candidate.Content.Parts {
				delta += part.Text
			}
			if delta != "" {
				idx := index
				if !emit(canonical.Event{Type: canonical.EventContentBlockDelta, Index: &idx, TextDelta: delta}) {
					return
				}
			}

			if candidate.FinishReason != "" {
				idx := index
				if !emit(canonical.Event{Type: canonical.EventContentBlockStop, Index: &idx}) {
					return
				}

				usage := canonical.Usage{}
				if geminiResp.UsageMetadata != nil {
					usage = canonical.Usage{
						InputTokens:  geminiResp.UsageMetadata.PromptTokenCount,
						OutputTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
					}
				}
				stop := geminiFinishReason(candidate.FinishReason)
				if !emit(canonical.Event{Type: canonical.EventMessageDelta, StopReason: stop, Usage: &usage}) {
					return
				}
				emit(canonical.Event{Type: canonical.EventMessageStop})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(errorEvent(NewUpstreamTransport(fmt.Errorf("reading gemini stream: %w", err))))
		}
	}()

	return ch, nil
}

// ---------------------------------------------------------------------------
// Catalog + health
// ---------------------------------------------------------------------------

func (g *GeminiAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models := make([]ModelInfo, 0, len(g.cfg.Models))
	for _, m := range g.cfg.Models {
		models = append(models, ModelInfo{ID: m, OwnedBy: g.Name()})
	}
	return models, nil
}

func (g *GeminiAdapter) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%smodels?key=%s", g.cfg.APIBase, g.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{State: HealthUnhealthy, LastError: Redact(err.Error())}
	}

	httpResp, err := g.client.Do(httpReq)
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
