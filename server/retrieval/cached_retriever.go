package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	aicache "github.com/hrygo/ragcache/plugin/ai/cache"
	cerrors "github.com/hrygo/ragcache/server/internal/errors"
	"github.com/hrygo/ragcache/server/internal/observability"
	storecache "github.com/hrygo/ragcache/store/cache"
)

const tracerName = "github.com/hrygo/ragcache/server/retrieval"

// Answer sources.
const (
	SourceLocal        = "local"
	SourceLocalSimilar = "local_similar"
	SourceDurable      = "durable"
	SourcePipeline     = "pipeline"
)

// Pipeline produces a fresh result for a query on a cache miss.
type Pipeline[P any] interface {
	Run(ctx context.Context, query, strategy string) (P, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc[P any] func(ctx context.Context, query, strategy string) (P, error)

// Run calls f.
func (f PipelineFunc[P]) Run(ctx context.Context, query, strategy string) (P, error) {
	return f(ctx, query, strategy)
}

// Request is a single retrieval request.
type Request struct {
	Query    string
	Strategy string
	Scope    storecache.Scope
}

// Response is the answer to a Request.
type Response[P any] struct {
	Payload   P
	Source    string
	Score     float64   // 1 for exact and durable hits, the similarity score for local_similar
	CachedAt  time.Time // durable hits only
	Shared    bool      // result of another caller's pipeline run
	HitCount  int64     // in-process hits on the served entry
	RequestID string
	Duration  time.Duration
}

// Stats combines both tiers.
type Stats struct {
	Local   aicache.Stats
	Durable storecache.Stats
}

// CachedRetriever answers queries from the in-process tier, then the durable
// tier, then the pipeline. Both tiers are partitioned by the request scope,
// so tenants sharing a retriever never see each other's results.
type CachedRetriever[P any] struct {
	local    *aicache.SemanticCache[P]
	durable  *storecache.DurableCache[P]
	pipeline Pipeline[P]
	metrics  *observability.CacheMetrics
	tracer   trace.Tracer
	logger   *slog.Logger
	flight   singleflight.Group
}

// Option configures a CachedRetriever.
type Option[P any] func(*CachedRetriever[P])

// WithMetrics sets the metrics sink.
func WithMetrics[P any](m *observability.CacheMetrics) Option[P] {
	return func(r *CachedRetriever[P]) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger[P any](l *slog.Logger) Option[P] {
	return func(r *CachedRetriever[P]) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer. The global provider is used otherwise.
func WithTracer[P any](t trace.Tracer) Option[P] {
	return func(r *CachedRetriever[P]) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewCachedRetriever creates a retriever. A nil durable tier behaves as an
// unconfigured one.
func NewCachedRetriever[P any](
	local *aicache.SemanticCache[P],
	durable *storecache.DurableCache[P],
	pipeline Pipeline[P],
	opts ...Option[P],
) *CachedRetriever[P] {
	if local == nil {
		local = aicache.NewSemanticCache[P](aicache.DefaultConfig())
	}
	if durable == nil {
		durable = storecache.NewDurableCache[P](nil, storecache.DefaultDurableConfig())
	}

	r := &CachedRetriever[P]{
		local:    local,
		durable:  durable,
		pipeline: pipeline,
		metrics:  observability.NewCacheMetrics(nil),
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Answer resolves req. Cache failures are logged and never returned; pipeline
// failures are returned as a PIPELINE_FAILED CacheError.
func (r *CachedRetriever[P]) Answer(ctx context.Context, req Request) (*Response[P], error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, cerrors.InvalidArgument("query is empty")
	}
	if r.pipeline == nil {
		return nil, cerrors.InvalidArgument("no pipeline configured")
	}

	rc := observability.NewRequestContext(r.logger, req.Strategy, req.Scope.TenantID)

	ctx, span := r.tracer.Start(ctx, "retrieval.answer", trace.WithAttributes(
		attribute.String("ragcache.strategy", req.Strategy),
		attribute.String("ragcache.request_id", rc.RequestID),
	))
	defer span.End()

	resp, err := r.answer(ctx, rc, req)
	if err != nil {
		code := cerrors.Classify(err)
		r.metrics.RecordPipelineError(string(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		rc.Error("answer failed", err,
			slog.String(observability.LogFieldErrorCode, string(code)),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		)
		return nil, err
	}

	resp.RequestID = rc.RequestID
	resp.Duration = rc.Duration()
	r.metrics.RecordAnswer(resp.Source, resp.Duration)
	stats := r.local.Stats()
	r.metrics.UpdateLocalStats(stats.Size, stats.HitRate)

	span.SetAttributes(
		attribute.String("ragcache.source", resp.Source),
		attribute.Float64("ragcache.score", resp.Score),
	)
	span.SetStatus(codes.Ok, resp.Source)
	rc.Debug("answered",
		slog.String(observability.LogFieldSource, resp.Source),
		slog.Float64(observability.LogFieldScore, resp.Score),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
	)
	return resp, nil
}

func (r *CachedRetriever[P]) answer(ctx context.Context, rc *observability.RequestContext, req Request) (*Response[P], error) {
	partition := req.Scope.Partition()
	if res := r.local.LookupIn(partition, req.Query, req.Strategy); res.Hit() {
		if res.Kind == aicache.MatchSimilar {
			r.metrics.RecordLookup(observability.TierLocal, observability.OutcomeSimilar)
			return &Response[P]{Payload: res.Payload, Source: SourceLocalSimilar, Score: res.Score, HitCount: res.Entry.HitCount}, nil
		}
		r.metrics.RecordLookup(observability.TierLocal, observability.OutcomeHit)
		return &Response[P]{Payload: res.Payload, Source: SourceLocal, Score: res.Score, HitCount: res.Entry.HitCount}, nil
	}
	r.metrics.RecordLookup(observability.TierLocal, observability.OutcomeMiss)

	record, err := r.durable.Get(ctx, req.Query, req.Scope)
	switch {
	case err == nil:
		r.metrics.RecordLookup(observability.TierDurable, observability.OutcomeHit)
		r.local.SetIn(partition, req.Query, record.Value, req.Strategy)
		return &Response[P]{Payload: record.Value, Source: SourceDurable, Score: 1, CachedAt: record.CachedAt}, nil
	case errors.Is(err, storecache.ErrCacheMiss):
		r.metrics.RecordLookup(observability.TierDurable, observability.OutcomeMiss)
	default:
		r.metrics.RecordLookup(observability.TierDurable, observability.OutcomeUnavailable)
	}

	return r.runPipeline(ctx, rc, req)
}

// runPipeline coalesces concurrent misses for the same durable key and
// strategy into one pipeline run. The run is detached from the leader's
// cancellation; each caller still stops waiting when its own context ends.
func (r *CachedRetriever[P]) runPipeline(ctx context.Context, rc *observability.RequestContext, req Request) (*Response[P], error) {
	flightKey := r.durable.Key(req.Query, req.Scope) + "\x00" + req.Strategy
	runCtx := context.WithoutCancel(ctx)

	ch := r.flight.DoChan(flightKey, func() (interface{}, error) {
		payload, err := r.pipeline.Run(runCtx, req.Query, req.Strategy)
		if err != nil {
			return nil, err
		}

		r.local.SetIn(req.Scope.Partition(), req.Query, payload, req.Strategy)
		r.metrics.RecordWrite(observability.TierLocal, nil)

		werr := r.durable.Set(runCtx, req.Query, payload, req.Scope)
		r.metrics.RecordWrite(observability.TierDurable, werr)
		if werr != nil {
			rc.Debug("durable write skipped",
				slog.String(observability.LogFieldCacheKey, r.durable.Key(req.Query, req.Scope)),
				slog.String("error", werr.Error()),
			)
		}
		return payload, nil
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, cerrors.Timeout("waiting for pipeline", ctx.Err())
		}
		return nil, cerrors.ContextCanceled(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, cerrors.PipelineFailed("retrieval pipeline failed", res.Err).
				WithContext("strategy", req.Strategy)
		}
		if res.Shared {
			r.metrics.RecordCoalesced()
		}
		// A nil interface payload comes back as a nil Val.
		payload, _ := res.Val.(P)
		return &Response[P]{Payload: payload, Source: SourcePipeline, Shared: res.Shared}, nil
	}
}

// Invalidate removes durable keys matching pattern and clears the in-process
// tier. The count of removed durable keys is returned even on failure.
func (r *CachedRetriever[P]) Invalidate(ctx context.Context, pattern string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "retrieval.invalidate", trace.WithAttributes(
		attribute.String("ragcache.pattern", pattern),
	))
	defer span.End()

	removed, err := r.durable.Invalidate(ctx, pattern)
	r.local.Clear()
	r.metrics.RecordInvalidation(removed)
	span.SetAttributes(attribute.Int("ragcache.removed", removed))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(cerrors.Classify(err)))
		r.logger.Warn("invalidation incomplete",
			"pattern", pattern,
			"removed", removed,
			observability.LogFieldErrorCode, string(cerrors.Classify(err)),
			"error", err,
		)
		return removed, err
	}

	r.logger.Info("cache invalidated", "pattern", pattern, "removed", removed)
	return removed, nil
}

// Stats returns a snapshot of both tiers.
func (r *CachedRetriever[P]) Stats(ctx context.Context) Stats {
	local := r.local.Stats()
	r.metrics.UpdateLocalStats(local.Size, local.HitRate)
	return Stats{
		Local:   local,
		Durable: r.durable.Stats(ctx),
	}
}
