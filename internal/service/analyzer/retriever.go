package analyzer

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/config"
	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/repository"
	"github.com/studyassist/analysis-service/internal/service/integration"
)

// ErrRetrievalUnavailable means neither vector search nor the lexical fallback
// produced anything to score against. The triggering analysis is retryable.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// WindowResult records what a single window retrieved. Hits are sorted by
// similarity descending, source ID ascending.
type WindowResult struct {
	Window   Window
	Embedded bool
	Hits     []models.SourceHit
}

// MergedHit is the per-source best match across all windows. Window is the
// earliest window that achieved the winning similarity.
type MergedHit struct {
	Source     models.Source
	Similarity float64
	Lexical    bool
	Window     Window
}

type RetrievalResult struct {
	Windows       []WindowResult
	Merged        []MergedHit
	EmbeddedCount int
	Degraded      bool
}

type Retriever interface {
	Retrieve(ctx context.Context, text string) (*RetrievalResult, error)
}

type retriever struct {
	embedder integration.Embedder
	sources  repository.SourceRepository
	cfg      config.RetrievalConfig
	logger   zerolog.Logger
}

func NewRetriever(embedder integration.Embedder, sources repository.SourceRepository, cfg config.RetrievalConfig, logger zerolog.Logger) Retriever {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &retriever{
		embedder: embedder,
		sources:  sources,
		cfg:      cfg,
		logger:   logger,
	}
}

func (r *retriever) Retrieve(ctx context.Context, text string) (*RetrievalResult, error) {
	windows := SplitWindows(text, r.cfg.WindowSentences, r.cfg.WindowOverlap, r.cfg.WindowMaxChars)
	if len(windows) == 0 {
		return &RetrievalResult{}, nil
	}

	vectors := r.embedAll(ctx, windows)

	result := &RetrievalResult{
		Windows: make([]WindowResult, len(windows)),
	}

	var lexErr error
	anyHits := false

	for i, w := range windows {
		result.Windows[i] = WindowResult{Window: w}

		if vectors[i] == nil {
			result.Degraded = true
			if err := r.lexicalWindow(ctx, &result.Windows[i]); err != nil {
				lexErr = err
				continue
			}
		} else {
			hits, err := r.sources.NearestNeighbors(ctx, vectors[i], r.cfg.TopK, r.cfg.MinSimilarity)
			if err != nil {
				r.logger.Error().Err(err).Int("window", i).Msg("Vector search failed")
				result.Degraded = true
				if lexFallbackErr := r.lexicalWindow(ctx, &result.Windows[i]); lexFallbackErr != nil {
					lexErr = lexFallbackErr
					continue
				}
			} else {
				result.Windows[i].Embedded = true
				result.EmbeddedCount++
				result.Windows[i].Hits = hits
			}
		}

		if len(result.Windows[i].Hits) > 0 {
			anyHits = true
		}
	}

	if result.EmbeddedCount == 0 && !anyHits {
		if lexErr != nil {
			return nil, errors.Join(ErrRetrievalUnavailable, lexErr)
		}
		return nil, ErrRetrievalUnavailable
	}

	result.Merged = mergeHits(result.Windows)
	return result, nil
}

// embedAll runs the embedder over every window with bounded concurrency.
// Failed windows leave a nil vector; the caller decides how to degrade.
func (r *retriever) embedAll(ctx context.Context, windows []Window) [][]float64 {
	vectors := make([][]float64, len(windows))
	sem := make(chan struct{}, r.cfg.MaxConcurrency)

	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func(i int, w Window) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := r.embedder.Embed(ctx, w.Text)
			if err != nil {
				r.logger.Warn().Err(err).Int("window", i).Msg("Window embedding failed")
				return
			}
			vectors[i] = vec
		}(i, w)
	}
	wg.Wait()

	return vectors
}

// lexicalWindow fills one window with keyword hits when its vector path is
// unavailable. Lexical hit similarities are rank scores, not cosine; the
// caller marks the result degraded.
func (r *retriever) lexicalWindow(ctx context.Context, wr *WindowResult) error {
	hits, err := r.sources.LexicalSearch(ctx, wr.Window.Text, r.cfg.TopK)
	if err != nil {
		return err
	}
	wr.Hits = hits
	return nil
}

// mergeHits keeps the best similarity per source across windows. Ties go to
// the earliest window so repeated runs over the same input agree byte for
// byte. Output order is similarity descending, source ID ascending.
func mergeHits(windows []WindowResult) []MergedHit {
	best := make(map[string]MergedHit)

	for _, wr := range windows {
		for _, hit := range wr.Hits {
			current, ok := best[hit.Source.ID]
			if !ok || hit.Similarity > current.Similarity {
				best[hit.Source.ID] = MergedHit{
					Source:     hit.Source,
					Similarity: hit.Similarity,
					Lexical:    hit.Lexical,
					Window:     wr.Window,
				}
			}
		}
	}

	merged := make([]MergedHit, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		return merged[i].Source.ID < merged[j].Source.ID
	})

	return merged
}
