package ai

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/ragcache/plugin/ai/timeout"
)

// TaskType tells the provider whether a text is a search query or a document
// being indexed. Queries and documents must be embedded with matching intent to
// land in a comparable region of the vector space.
type TaskType string

const (
	TaskTypeRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
	TaskTypeRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// EmbedQuery generates a vector for a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedQueries generates vectors for multiple search queries, in input order.
	EmbedQueries(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedDocument generates a vector for a single document chunk.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates vectors for multiple document chunks, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the configured vector dimension.
	Dimensions() int

	// Model returns the embedding model name.
	Model() string
}

// embeddingBackend performs one provider call. Results must be in input order.
type embeddingBackend interface {
	embed(ctx context.Context, texts []string, taskType TaskType, dims int) ([][]float32, error)
}

type embeddingService struct {
	backend    embeddingBackend
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewEmbeddingService creates a new EmbeddingService.
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	var backend embeddingBackend

	switch cfg.Provider {
	case "siliconflow", "openai", "ollama":
		// All three speak the OpenAI embeddings API.
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		backend = &openAIBackend{
			client:         openai.NewClientWithConfig(clientConfig),
			model:          cfg.Model,
			queryPrefix:    cfg.QueryPrefix,
			documentPrefix: cfg.DocumentPrefix,
		}

	case "gemini":
		gb, err := newGeminiBackend(context.Background(), cfg)
		if err != nil {
			return nil, errors.Wrap(err, "create gemini client")
		}
		backend = gb

	default:
		return nil, errors.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	return newEmbeddingService(backend, cfg), nil
}

func newEmbeddingService(backend embeddingBackend, cfg *EmbeddingConfig) *embeddingService {
	s := &embeddingService{
		backend:    backend,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return s
}

func (s *embeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(ctx, text, TaskTypeRetrievalQuery)
}

func (s *embeddingService) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, texts, TaskTypeRetrievalQuery, s.dimensions)
}

func (s *embeddingService) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return s.embedOne(ctx, text, TaskTypeRetrievalDocument)
}

func (s *embeddingService) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, texts, TaskTypeRetrievalDocument, s.dimensions)
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

func (s *embeddingService) Model() string {
	return s.model
}

func (s *embeddingService) embedOne(ctx context.Context, text string, taskType TaskType) ([]float32, error) {
	vectors, err := s.embed(ctx, []string{text}, taskType, s.dimensions)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embed is the single entry point to the provider. It is unexported so that the
// task type is always chosen by the public method, never passed in by callers.
func (s *embeddingService) embed(ctx context.Context, texts []string, taskType TaskType, dims int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, newEmbeddingError("embed", taskType, errors.New("no texts provided for embedding"))
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, newEmbeddingError("embed", taskType, errors.Errorf("text %d is empty", i))
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, newEmbeddingError("rate limit", taskType, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()

	vectors, err := s.backend.embed(callCtx, texts, taskType, dims)
	if err != nil {
		return nil, newEmbeddingError("create embeddings", taskType, err)
	}
	if len(vectors) != len(texts) {
		return nil, newEmbeddingError("create embeddings", taskType,
			errors.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
	}

	for i, v := range vectors {
		if len(v) != dims {
			slog.Warn("embedding dimension mismatch",
				"model", s.model,
				"task_type", string(taskType),
				"index", i,
				"expected", dims,
				"actual", len(v),
			)
		}
	}

	return vectors, nil
}

type openAIBackend struct {
	client         *openai.Client
	model          string
	queryPrefix    string
	documentPrefix string
}

func (b *openAIBackend) embed(ctx context.Context, texts []string, taskType TaskType, dims int) ([][]float32, error) {
	prefix := b.queryPrefix
	if taskType == TaskTypeRetrievalDocument {
		prefix = b.documentPrefix
	}

	input := texts
	if prefix != "" {
		input = make([]string, len(texts))
		for i, text := range texts {
			input[i] = prefix + text
		}
	}

	req := openai.EmbeddingRequest{
		Input:      input,
		Model:      openai.EmbeddingModel(b.model),
		Dimensions: dims,
	}

	resp, err := b.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}

	// Providers may return items out of order; Index is authoritative.
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}

	return vectors, nil
}
