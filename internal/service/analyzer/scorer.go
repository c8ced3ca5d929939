package analyzer

import (
	"fmt"
	"strings"

	"github.com/studyassist/analysis-service/internal/config"
	"github.com/studyassist/analysis-service/internal/models"
)

const (
	summaryMaxChars = 280
	excerptMaxChars = 200
)

// Scorer turns a retrieval result into the scored analysis fields. It is pure:
// the same text, retrieval result and configuration always produce the same
// output, including ordering.
type Scorer interface {
	Score(text string, result *RetrievalResult) *models.Analysis
}

type scorer struct {
	cfg  config.ScoringConfig
	topK int
}

func NewScorer(cfg config.ScoringConfig, topK int) Scorer {
	if topK <= 0 {
		topK = 1
	}
	return &scorer{cfg: cfg, topK: topK}
}

func (s *scorer) Score(text string, result *RetrievalResult) *models.Analysis {
	analysis := &models.Analysis{
		OriginalSummary: summarize(text),
		Degraded:        result.Degraded,
	}

	if len(result.Windows) == 0 {
		analysis.ConfidenceScore = 0
		analysis.ResearchSuggestions = "The submission contains no analyzable text."
		analysis.CitationRecommendations = "No citation guidance available for an empty submission."
		return analysis
	}

	matched := 0
	similaritySum := 0.0
	candidateFillSum := 0.0

	for _, wr := range result.Windows {
		fill := float64(len(wr.Hits)) / float64(s.topK)
		if fill > 1 {
			fill = 1
		}
		candidateFillSum += fill

		if len(wr.Hits) == 0 {
			continue
		}
		matched++
		similaritySum += clamp01(wr.Hits[0].Similarity)

		if !wr.Hits[0].Lexical && wr.Hits[0].Similarity >= s.cfg.FlagThreshold {
			analysis.FlaggedSections = append(analysis.FlaggedSections, models.FlaggedSection{
				Span: models.Span{
					Start:   wr.Window.Start,
					End:     wr.Window.End,
					Excerpt: truncate(wr.Window.Text, excerptMaxChars),
				},
				SourceID:   wr.Hits[0].Source.ID,
				Title:      wr.Hits[0].Source.Title,
				Similarity: wr.Hits[0].Similarity,
			})
		}
	}

	coverage := float64(matched) / float64(len(result.Windows))
	meanSimilarity := 0.0
	if matched > 0 {
		meanSimilarity = similaritySum / float64(matched)
	}

	analysis.PlagiarismScore = clamp01(s.cfg.CoverageWeight*coverage + s.cfg.SimilarityWeight*meanSimilarity)
	analysis.ConfidenceScore = s.confidence(result, candidateFillSum/float64(len(result.Windows)))
	analysis.SuggestedSources = s.suggestions(result.Merged)
	analysis.ResearchSuggestions = researchText(result.Merged)
	analysis.CitationRecommendations = citationText(analysis.SuggestedSources, analysis.FlaggedSections)

	return analysis
}

// confidence blends how much of the text could use vector retrieval with how
// full the candidate lists came back. A lexical-only run scores strictly below
// any run where at least one window embedded.
func (s *scorer) confidence(result *RetrievalResult, candidateFill float64) float64 {
	embeddedFraction := float64(result.EmbeddedCount) / float64(len(result.Windows))
	return clamp01(s.cfg.ConfidenceEmbeddedWeight*embeddedFraction + s.cfg.ConfidenceFillWeight*candidateFill)
}

func (s *scorer) suggestions(merged []MergedHit) []models.Match {
	limit := s.cfg.MaxSuggestions
	if limit <= 0 || limit > len(merged) {
		limit = len(merged)
	}

	matches := make([]models.Match, 0, limit)
	for _, m := range merged[:limit] {
		matches = append(matches, models.Match{
			SourceID:   m.Source.ID,
			Title:      m.Source.Title,
			Authors:    m.Source.Authors,
			Similarity: m.Similarity,
			Lexical:    m.Lexical,
			Span: models.Span{
				Start:   m.Window.Start,
				End:     m.Window.End,
				Excerpt: truncate(m.Window.Text, excerptMaxChars),
			},
		})
	}

	return matches
}

func researchText(merged []MergedHit) string {
	if len(merged) == 0 {
		return "No closely related sources were found. Consider broadening the literature search for this topic."
	}

	titles := make([]string, 0, 3)
	for _, m := range merged {
		titles = append(titles, fmt.Sprintf("%q", m.Source.Title))
		if len(titles) == 3 {
			break
		}
	}

	return fmt.Sprintf("Related work worth reviewing: %s.", strings.Join(titles, ", "))
}

func citationText(suggestions []models.Match, flagged []models.FlaggedSection) string {
	if len(flagged) > 0 {
		return fmt.Sprintf("%d section(s) closely follow existing sources and must cite them explicitly. Review every flagged span against the listed source.", len(flagged))
	}
	if len(suggestions) > 0 {
		return "No section requires a mandatory citation, but the suggested sources should be cited wherever their ideas are used."
	}
	return "No overlapping sources found; standard citation practice applies."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func summarize(text string) string {
	trimmed := strings.TrimSpace(text)
	return truncate(trimmed, summaryMaxChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
