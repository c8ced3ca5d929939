package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/models"
)

// SourceRepository is the corpus store contract. The pgvector-backed
// implementation below serves real deployments; MemoryCorpus is the exact-scan
// implementation for small corpora and tests.
type SourceRepository interface {
	Upsert(ctx context.Context, source *models.Source) error
	GetByID(ctx context.Context, id string) (*models.Source, error)
	// NearestNeighbors returns at most k sources with cosine similarity to
	// queryVector >= minSimilarity, ordered by similarity descending, ties
	// broken by ascending source id. Sources without an embedding are excluded.
	NearestNeighbors(ctx context.Context, queryVector []float64, k int, minSimilarity float64) ([]models.SourceHit, error)
	// LexicalSearch is the token-based fallback over title/abstract, usable
	// when embeddings are stale or the adapter is unavailable.
	LexicalSearch(ctx context.Context, query string, k int) ([]models.SourceHit, error)
	CountSources(ctx context.Context) (int, error)
}

type sourceRepository struct {
	*PostgresRepository
	dimension int
}

func NewSourceRepository(db *sql.DB, dimension int, logger zerolog.Logger) SourceRepository {
	return &sourceRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
		dimension:          dimension,
	}
}

func (r *sourceRepository) Upsert(ctx context.Context, source *models.Source) error {
	if len(source.Embedding) > 0 && len(source.Embedding) != r.dimension {
		return fmt.Errorf("source %s embedding has dimension %d, corpus requires %d",
			source.ID, len(source.Embedding), r.dimension)
	}

	var embedding interface{}
	if len(source.Embedding) > 0 {
		embedding = vectorLiteral(source.Embedding)
	}

	query := `
		INSERT INTO academic_sources (
			id, title, authors, publication_year, abstract, full_text,
			source_type, url, embedding, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CAST($9 AS vector), now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			authors = EXCLUDED.authors,
			publication_year = EXCLUDED.publication_year,
			abstract = EXCLUDED.abstract,
			full_text = EXCLUDED.full_text,
			source_type = EXCLUDED.source_type,
			url = EXCLUDED.url,
			embedding = EXCLUDED.embedding
	`

	_, err := r.db.ExecContext(ctx, query,
		source.ID,
		source.Title,
		nullString(source.Authors),
		nullInt(source.PublicationYear),
		nullString(source.Abstract),
		nullString(source.FullText),
		source.SourceType.String(),
		nullString(source.URL),
		embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", source.ID, err)
	}

	return nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id string) (*models.Source, error) {
	query := `
		SELECT id, title, authors, publication_year, abstract, full_text, source_type, url, created_at
		FROM academic_sources
		WHERE id = $1
	`

	source, err := scanSource(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return source, nil
}

func (r *sourceRepository) NearestNeighbors(ctx context.Context, queryVector []float64, k int, minSimilarity float64) ([]models.SourceHit, error) {
	if len(queryVector) != r.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, corpus requires %d", len(queryVector), r.dimension)
	}

	query := `
		SELECT
			id, title, authors, publication_year, abstract, full_text, source_type, url, created_at,
			1 - (embedding <=> CAST($1 AS vector)) AS similarity
		FROM academic_sources
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> CAST($1 AS vector) ASC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, vectorLiteral(queryVector), k)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query failed: %w", err)
	}
	defer rows.Close()

	var hits []models.SourceHit
	for rows.Next() {
		hit, err := scanSourceHit(rows)
		if err != nil {
			return nil, err
		}
		if hit.Similarity < minSimilarity {
			continue
		}
		hits = append(hits, *hit)
	}

	return hits, rows.Err()
}

func (r *sourceRepository) LexicalSearch(ctx context.Context, query string, k int) ([]models.SourceHit, error) {
	stmt := `
		SELECT
			id, title, authors, publication_year, abstract, full_text, source_type, url, created_at,
			ts_rank(
				to_tsvector('english', title || ' ' || coalesce(abstract, '')),
				plainto_tsquery('english', $1)
			) AS rank
		FROM academic_sources
		WHERE to_tsvector('english', title || ' ' || coalesce(abstract, ''))
			@@ plainto_tsquery('english', $1)
		ORDER BY rank DESC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, stmt, query, k)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer rows.Close()

	var hits []models.SourceHit
	for rows.Next() {
		hit, err := scanSourceHit(rows)
		if err != nil {
			return nil, err
		}
		hit.Lexical = true
		hits = append(hits, *hit)
	}

	return hits, rows.Err()
}

func (r *sourceRepository) CountSources(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM academic_sources`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*models.Source, error) {
	source := &models.Source{}
	var authors, abstract, fullText, url sql.NullString
	var year sql.NullInt64
	var sourceType string

	err := row.Scan(
		&source.ID,
		&source.Title,
		&authors,
		&year,
		&abstract,
		&fullText,
		&sourceType,
		&url,
		&source.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Authors = authors.String
	source.Abstract = abstract.String
	source.FullText = fullText.String
	source.URL = url.String
	source.SourceType = models.SourceType(sourceType)
	if year.Valid {
		source.PublicationYear = int(year.Int64)
	}

	return source, nil
}

func scanSourceHit(rows *sql.Rows) (*models.SourceHit, error) {
	hit := &models.SourceHit{}
	var authors, abstract, fullText, url sql.NullString
	var year sql.NullInt64
	var sourceType string

	err := rows.Scan(
		&hit.Source.ID,
		&hit.Source.Title,
		&authors,
		&year,
		&abstract,
		&fullText,
		&sourceType,
		&url,
		&hit.Source.CreatedAt,
		&hit.Similarity,
	)
	if err != nil {
		return nil, err
	}

	hit.Source.Authors = authors.String
	hit.Source.Abstract = abstract.String
	hit.Source.FullText = fullText.String
	hit.Source.URL = url.String
	hit.Source.SourceType = models.SourceType(sourceType)
	if year.Valid {
		hit.Source.PublicationYear = int(year.Int64)
	}

	return hit, nil
}

// vectorLiteral renders a float slice in pgvector's input format: [f1,f2,...].
func vectorLiteral(vec []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
