package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/studyassist/analysis-service/internal/config"
	"github.com/studyassist/analysis-service/internal/models"
	"github.com/studyassist/analysis-service/internal/repository"
	"github.com/studyassist/analysis-service/internal/service/analyzer"
	"github.com/studyassist/analysis-service/internal/service/integration"
)

type fixedEmbedder struct {
	vector []float64
	fail   bool
}

func (f fixedEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	if f.fail {
		return nil, integration.ErrEmbeddingUnavailable
	}
	return f.vector, nil
}

func (f fixedEmbedder) Dimension() int { return len(f.vector) }

type capturePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

func (p *capturePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.published))
	for _, m := range p.published {
		keys = append(keys, m.RoutingKey)
	}
	return keys
}

type analysisServiceFixture struct {
	service     AnalysisService
	assignments *stubAssignmentRepo
	analyses    *stubAnalysisRepo
	corpus      *repository.MemoryCorpus
	publisher   *capturePublisher
	notifier    *fakeNotifier
}

func setupAnalysisTest(t *testing.T, embedder integration.Embedder) *analysisServiceFixture {
	t.Helper()

	assignments := newStubAssignmentRepo()
	analyses := newStubAnalysisRepo()
	notifications := repository.NewMemoryNotifications()
	corpus := repository.NewMemoryCorpus(embedder.Dimension())
	publisher := &capturePublisher{}
	notifier := &fakeNotifier{}

	retrievalCfg := config.RetrievalConfig{
		TopK:            10,
		MinSimilarity:   0.5,
		WindowSentences: 2,
		WindowOverlap:   0,
		WindowMaxChars:  2000,
		MaxConcurrency:  2,
	}
	scoringCfg := config.ScoringConfig{
		CoverageWeight:           0.6,
		SimilarityWeight:         0.4,
		ConfidenceEmbeddedWeight: 0.7,
		ConfidenceFillWeight:     0.3,
		FlagThreshold:            0.85,
		MaxSuggestions:           10,
	}

	retriever := analyzer.NewRetriever(embedder, corpus, retrievalCfg, zerolog.Nop())
	scorer := analyzer.NewScorer(scoringCfg, retrievalCfg.TopK)

	notificationService := NewNotificationService(notifications, assignments, analyses, notifier, zerolog.Nop())

	svc := NewAnalysisService(
		assignments,
		analyses,
		retriever,
		scorer,
		notificationService,
		publisher,
		nil,
		zerolog.Nop(),
		AnalysisConfig{Exchange: "assignment_exchange", SubmitRoutingKey: "assignment.submitted"},
	)

	return &analysisServiceFixture{
		service:     svc,
		assignments: assignments,
		analyses:    analyses,
		corpus:      corpus,
		publisher:   publisher,
		notifier:    notifier,
	}
}

func TestAnalyzeAssignment_FullPipeline(t *testing.T) {
	f := setupAnalysisTest(t, fixedEmbedder{vector: []float64{1, 0, 0}})
	ctx := context.Background()

	if err := f.corpus.Upsert(ctx, &models.Source{
		ID:         "src-1",
		Title:      "Cell Biology Fundamentals",
		SourceType: models.SourceTypeTextbook,
		Embedding:  []float64{1, 0, 0},
	}); err != nil {
		t.Fatalf("Failed to seed corpus: %v", err)
	}

	assignment, err := f.service.CreateAssignment(ctx, &models.CreateAssignmentRequest{
		StudentID:    "student-1",
		Filename:     "essay.txt",
		OriginalText: "The cell is the basic unit of life. Mitochondria produce most of the cell's energy.",
	})
	if err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	analysis, err := f.service.AnalyzeAssignment(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("AnalyzeAssignment failed: %v", err)
	}

	if analysis.AssignmentID != assignment.ID {
		t.Errorf("Analysis bound to wrong assignment: %s", analysis.AssignmentID)
	}
	if analysis.PlagiarismScore <= 0 || analysis.PlagiarismScore > 1 {
		t.Errorf("Score out of range: %v", analysis.PlagiarismScore)
	}
	if len(analysis.FlaggedSections) == 0 {
		t.Error("Identical embedding should flag at least one section")
	}
	if analysis.Degraded {
		t.Error("Vector run must not be degraded")
	}

	stored, err := f.service.GetCurrentAnalysis(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("GetCurrentAnalysis failed: %v", err)
	}
	if stored.ID != analysis.ID {
		t.Errorf("Stored analysis %s is not the returned one %s", stored.ID, analysis.ID)
	}

	students, _ := f.notifier.counts()
	if students != 1 {
		t.Errorf("Expected 1 student notification, got %d", students)
	}

	keys := f.publisher.routingKeys()
	foundCompleted := false
	for _, k := range keys {
		if k == "analysis.completed" {
			foundCompleted = true
		}
	}
	if !foundCompleted {
		t.Errorf("analysis.completed event not published, got keys %v", keys)
	}
}

func TestAnalyzeAssignment_NotFound(t *testing.T) {
	f := setupAnalysisTest(t, fixedEmbedder{vector: []float64{1, 0, 0}})

	if _, err := f.service.AnalyzeAssignment(context.Background(), "missing"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("Expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestAnalyzeAssignment_RetrievalUnavailableLeavesNoRow(t *testing.T) {
	f := setupAnalysisTest(t, fixedEmbedder{vector: []float64{1, 0, 0}, fail: true})
	ctx := context.Background()

	assignment, err := f.service.CreateAssignment(ctx, &models.CreateAssignmentRequest{
		StudentID:    "student-1",
		OriginalText: "Completely unrelated text with an empty corpus.",
	})
	if err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	if _, err := f.service.AnalyzeAssignment(ctx, assignment.ID); !errors.Is(err, analyzer.ErrRetrievalUnavailable) {
		t.Fatalf("Expected ErrRetrievalUnavailable, got %v", err)
	}

	if _, err := f.service.GetCurrentAnalysis(ctx, assignment.ID); !errors.Is(err, ErrAnalysisNotFound) {
		t.Errorf("Failed analysis must leave no row, got %v", err)
	}

	keys := f.publisher.routingKeys()
	foundFailed := false
	for _, k := range keys {
		if k == "analysis.failed" {
			foundFailed = true
		}
	}
	if !foundFailed {
		t.Errorf("analysis.failed event not published, got keys %v", keys)
	}
}

func TestAnalyzeAssignment_LexicalDegradation(t *testing.T) {
	f := setupAnalysisTest(t, fixedEmbedder{vector: []float64{1, 0, 0}, fail: true})
	ctx := context.Background()

	if err := f.corpus.Upsert(ctx, &models.Source{
		ID:         "src-1",
		Title:      "photosynthesis light energy chloroplast",
		SourceType: models.SourceTypePaper,
	}); err != nil {
		t.Fatalf("Failed to seed corpus: %v", err)
	}

	assignment, err := f.service.CreateAssignment(ctx, &models.CreateAssignmentRequest{
		StudentID:    "student-1",
		OriginalText: "Photosynthesis converts light into energy inside the chloroplast.",
	})
	if err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	analysis, err := f.service.AnalyzeAssignment(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("Expected degraded analysis, got error: %v", err)
	}

	if !analysis.Degraded {
		t.Error("Lexical fallback analysis must be marked degraded")
	}
	if len(analysis.FlaggedSections) != 0 {
		t.Error("Lexical matches must not flag sections")
	}
}

func TestAnalyzeAssignmentAsync_PublishesSubmissionEvent(t *testing.T) {
	f := setupAnalysisTest(t, fixedEmbedder{vector: []float64{1, 0, 0}})
	ctx := context.Background()

	assignment, err := f.service.CreateAssignment(ctx, &models.CreateAssignmentRequest{
		StudentID:    "student-1",
		OriginalText: "Some essay text.",
	})
	if err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}

	if err := f.service.AnalyzeAssignmentAsync(ctx, assignment.ID); err != nil {
		t.Fatalf("AnalyzeAssignmentAsync failed: %v", err)
	}

	keys := f.publisher.routingKeys()
	if len(keys) != 1 || keys[0] != "assignment.submitted" {
		t.Errorf("Expected one assignment.submitted event, got %v", keys)
	}
}

func TestListAnalyses_UnknownAssignment(t *testing.T) {
	f := setupAnalysisTest(t, fixedEmbedder{vector: []float64{1, 0, 0}})

	if _, err := f.service.ListAnalyses(context.Background(), "missing"); !errors.Is(err, ErrAssignmentNotFound) {
		t.Errorf("Expected ErrAssignmentNotFound, got %v", err)
	}
}
