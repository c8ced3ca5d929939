package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/repository"
	"github.com/studyassist/analysis-service/internal/service/integration"
)

// CorpusService manages the academic source corpus and keeps its embeddings
// in step with the configured dimension.
type CorpusService interface {
	UpsertSource(ctx context.Context, req *models.UpsertSourceRequest) (*models.Source, error)
	GetSource(ctx context.Context, id string) (*models.Source, error)
	SearchSources(ctx context.Context, query string, k int) (*models.SourceSearchResponse, error)
	CountSources(ctx context.Context) (int, error)
}

type corpusService struct {
	sourceRepo repository.SourceRepository
	embedder   integration.Embedder
	logger     zerolog.Logger
}

func NewCorpusService(sourceRepo repository.SourceRepository, embedder integration.Embedder, logger zerolog.Logger) CorpusService {
	return &corpusService{
		sourceRepo: sourceRepo,
		embedder:   embedder,
		logger:     logger,
	}
}

func (s *corpusService) UpsertSource(ctx context.Context, req *models.UpsertSourceRequest) (*models.Source, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	sourceType := models.SourceType(req.SourceType)
	if !sourceType.Valid() {
		return nil, fmt.Errorf("invalid source_type %q", req.SourceType)
	}

	source := &models.Source{
		ID:              req.ID,
		Title:           req.Title,
		Authors:         req.Authors,
		PublicationYear: req.PublicationYear,
		Abstract:        req.Abstract,
		FullText:        req.FullText,
		SourceType:      sourceType,
		URL:             req.URL,
		CreatedAt:       time.Now().UTC(),
	}

	var existing *models.Source
	if source.ID == "" {
		source.ID = uuid.New().String()
	} else {
		var err error
		existing, err = s.sourceRepo.GetByID(ctx, source.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing source: %w", err)
		}
	}

	if existing != nil {
		source.CreatedAt = existing.CreatedAt
	}

	if err := s.resolveEmbedding(ctx, source, existing); err != nil {
		return nil, err
	}

	if err := s.sourceRepo.Upsert(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to upsert source: %w", err)
	}

	s.logger.Info().
		Str("source_id", source.ID).
		Str("source_type", string(source.SourceType)).
		Bool("embedded", len(source.Embedding) > 0).
		Msg("Source upserted")

	return source, nil
}

// resolveEmbedding embeds the title plus abstract, reusing the stored vector
// when that text is unchanged. An unavailable provider leaves the source
// without a fresh embedding instead of rejecting the write; lexical search
// still covers it until the embedding is refreshed by a later upsert.
func (s *corpusService) resolveEmbedding(ctx context.Context, source, existing *models.Source) error {
	if existing != nil && len(existing.Embedding) > 0 &&
		existing.Title == source.Title && existing.Abstract == source.Abstract {
		source.Embedding = existing.Embedding
		return nil
	}

	vector, err := s.embedder.Embed(ctx, embeddingText(source))
	if err != nil {
		if errors.Is(err, integration.ErrEmbeddingUnavailable) {
			s.logger.Warn().Err(err).
				Str("source_id", source.ID).
				Msg("Embedding unavailable, storing source without fresh embedding")
			if existing != nil {
				source.Embedding = existing.Embedding
			}
			return nil
		}
		return fmt.Errorf("failed to embed source: %w", err)
	}

	if len(vector) != s.embedder.Dimension() {
		return fmt.Errorf("%w: got %d, expected %d", ErrCorpusIntegrity, len(vector), s.embedder.Dimension())
	}

	source.Embedding = vector
	return nil
}

func embeddingText(source *models.Source) string {
	if source.Abstract == "" {
		return source.Title
	}
	return source.Title + "\n\n" + source.Abstract
}

func (s *corpusService) GetSource(ctx context.Context, id string) (*models.Source, error) {
	source, err := s.sourceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return source, nil
}

// SearchSources answers with vector similarity when the embedding provider is
// up and falls back to lexical matching when it is not.
func (s *corpusService) SearchSources(ctx context.Context, query string, k int) (*models.SourceSearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if k <= 0 {
		k = 10
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, integration.ErrEmbeddingUnavailable) {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}

		s.logger.Warn().Err(err).Msg("Falling back to lexical source search")
		hits, lexErr := s.sourceRepo.LexicalSearch(ctx, query, k)
		if lexErr != nil {
			return nil, fmt.Errorf("lexical search failed: %w", lexErr)
		}
		return &models.SourceSearchResponse{Query: query, Results: hits, Lexical: true}, nil
	}

	hits, err := s.sourceRepo.NearestNeighbors(ctx, vector, k, 0)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return &models.SourceSearchResponse{Query: query, Results: hits, Lexical: false}, nil
}

func (s *corpusService) CountSources(ctx context.Context) (int, error) {
	return s.sourceRepo.CountSources(ctx)
}
