package service

import "errors"

// Typed errors so the delivery layer can map them to HTTP codes and the queue
// consumer can tell transient failures from caller bugs. Retrieval-pipeline
// error classes live next to their producers (integration.ErrEmbeddingUnavailable,
// analyzer.ErrRetrievalUnavailable).
var (
	// Non-retryable, surfaced to operators.
	ErrCorpusIntegrity = errors.New("stored embedding dimension mismatch")

	// Notification state machine misuse; returned to the caller, never retried.
	ErrInvalidState = errors.New("notification state does not permit this transition")
	ErrForbidden    = errors.New("requesting student does not own this assignment")

	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrAnalysisNotFound   = errors.New("analysis not found for this assignment")

	ErrNotificationDispatch = errors.New("notification dispatch failed")
)
