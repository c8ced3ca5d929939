package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/studyassist/analysis-service/internal/models"
)

// MemoryCorpus is an exact-scan, in-memory implementation of SourceRepository.
// It brute-forces cosine similarity over every stored source, which is fine for
// small corpora and makes the retrieval pipeline testable without postgres.
type MemoryCorpus struct {
	mu        sync.RWMutex
	dimension int
	sources   map[string]models.Source
}

func NewMemoryCorpus(dimension int) *MemoryCorpus {
	return &MemoryCorpus{
		dimension: dimension,
		sources:   make(map[string]models.Source),
	}
}

func (m *MemoryCorpus) Upsert(_ context.Context, source *models.Source) error {
	if len(source.Embedding) > 0 && len(source.Embedding) != m.dimension {
		return fmt.Errorf("source %s embedding has dimension %d, corpus requires %d",
			source.ID, len(source.Embedding), m.dimension)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *source
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.sources[stored.ID] = stored
	return nil
}

func (m *MemoryCorpus) GetByID(_ context.Context, id string) (*models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, ok := m.sources[id]
	if !ok {
		return nil, nil
	}
	return &source, nil
}

func (m *MemoryCorpus) NearestNeighbors(_ context.Context, queryVector []float64, k int, minSimilarity float64) ([]models.SourceHit, error) {
	if len(queryVector) != m.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, corpus requires %d", len(queryVector), m.dimension)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []models.SourceHit
	for _, source := range m.sources {
		if len(source.Embedding) != m.dimension {
			continue
		}
		sim := cosineSimilarity(queryVector, source.Embedding)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, models.SourceHit{Source: source, Similarity: sim})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryCorpus) LexicalSearch(_ context.Context, query string, k int) ([]models.SourceHit, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []models.SourceHit
	for _, source := range m.sources {
		score := jaccard(queryTokens, tokenize(source.Title+" "+source.Abstract))
		if score == 0 {
			continue
		}
		hits = append(hits, models.SourceHit{Source: source, Similarity: score, Lexical: true})
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryCorpus) CountSources(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources), nil
}

func sortHits(hits []models.SourceHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Source.ID < hits[j].Source.ID
	})
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]")
		if token != "" {
			tokens[token] = true
		}
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}

	return float64(intersection) / float64(union)
}
