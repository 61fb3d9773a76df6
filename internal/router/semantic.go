package router

import (
	"context"
	"math"

	"github.com/daulet/tokenizers"
	"github.com/viterin/vek/vek32"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/relaygw/aigateway/internal/provider"
)

// ModelEmbedding is one model's precomputed descriptor vector, supplied
// through SemanticConfig.Catalog. Select scores it against the normalized
// request embedding with a plain dot product and uses the vector as given.
// internal/config has no catalog key and cmd/aigateway passes no Catalog,
// so a selector built there has an empty catalog.
type ModelEmbedding struct {
	ModelID    string
	ProviderID string
	Vector     []float32
}

// SemanticSelector embeds a request's text with a small ONNX encoder and
// picks the catalog entry with the highest cosine similarity. It's only
// consulted for model == "auto"; everything else resolves through the
// explicit map, rule engine, or prefix table first.
type SemanticSelector struct {
	tokenizer     *tokenizers.Tokenizer
	session       *ort.DynamicAdvancedSession
	catalog       []ModelEmbedding
	inputName     string
	outputName    string
	defaultModel  string
	dim           int
}

// SemanticConfig carries the on-disk artifacts and fallback needed to build
// a SemanticSelector. An empty ModelPath disables the embedding runtime
// entirely — NewSemanticSelector returns a selector that always falls back
// to DefaultModel.
type SemanticConfig struct {
	ModelPath     string
	TokenizerPath string
	InputName     string
	OutputName    string
	DefaultModel  string
	Dim           int
	Catalog       []ModelEmbedding
}

// NewSemanticSelector loads the ONNX encoder and tokenizer named in cfg. If
// cfg.ModelPath is empty, it returns a selector with no runtime that always
// falls back to cfg.DefaultModel — "auto" never fails the request just
// because semantic routing isn't configured.
func NewSemanticSelector(cfg SemanticConfig) (*SemanticSelector, error) {
	s := &SemanticSelector{
		catalog:      cfg.Catalog,
		inputName:    cfg.InputName,
		outputName:   cfg.OutputName,
		defaultModel: cfg.DefaultModel,
		dim:          cfg.Dim,
	}

	if cfg.ModelPath == "" {
		return s, nil
	}

	tok, err := tokenizers.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}
	s.tokenizer = tok

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, []string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, err
	}
	s.session = session

	return s, nil
}

// Close releases the ONNX session and tokenizer, if loaded.
func (s *SemanticSelector) Close() error {
	if s.tokenizer != nil {
		s.tokenizer.Close()
	}
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// Select embeds the request's affinity text and returns the provider_id of
// the catalog entry with the highest cosine similarity among providers that
// currently have at least one enabled instance. When no embedding runtime
// was configured, it resolves cfg.DefaultModel through the registry's
// explicit map instead of computing anything.
func (s *SemanticSelector) Select(ctx context.Context, f RequestFeatures, registry *provider.Registry) (string, bool) {
	if s.session == nil {
		if s.defaultModel == "" {
			return "", false
		}
		return registry.ProviderForModel(s.defaultModel)
	}

	vec, err := s.embed(f.AffinityKey)
	if err != nil {
		return "", false
	}

	var best ModelEmbedding
	bestScore := float32(-2.0)
	found := false

	for _, entry := range s.catalog {
		if len(registry.Instances(entry.ProviderID)) == 0 {
			continue
		}
		score := cosineSimilarity(vec, entry.Vector)
		if score > bestScore {
			bestScore = score
			best = entry
			found = true
		}
	}

	if !found {
		return "", false
	}
	return best.ProviderID, true
}

// embed tokenizes text and runs it through the ONNX session, returning a
// unit-normalized embedding vector.
func (s *SemanticSelector) embed(text string) ([]float32, error) {
	encoding := s.tokenizer.EncodeWithOptions(text, false)
	ids := make([]int64, len(encoding.IDs))
	for i, id := range encoding.IDs {
		ids[i] = int64(id)
	}

	inputShape := ort.NewShape(1, int64(len(ids)))
	inputTensor, err := ort.NewTensor(inputShape, ids)
	if err != nil {
		return nil, err
	}
	defer inputTensor.Destroy()

	outputShape := ort.NewShape(1, int64(s.dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, err
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, err
	}

	return normalize(outputTensor.GetData()), nil
}

func normalize(vec []float32) []float32 {
	norm := float32(math.Sqrt(float64(vek32.Dot(vec, vec))))
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return -2.0
	}
	return vek32.Dot(a, b)
}
