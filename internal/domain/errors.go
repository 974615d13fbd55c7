package domain

import "errors"

var (
	// ErrFilterRejection marks a candidate that matched no configured keyword.
	ErrFilterRejection = errors.New("filtered: no matching keywords")
	// ErrDuplicate marks a candidate whose fingerprint is already reserved or stored.
	ErrDuplicate = errors.New("duplicate fingerprint")

	ErrAnalysisFailure     = errors.New("analysis failure")
	ErrEmbeddingFailure    = errors.New("embedding failure")
	ErrVerificationFailure = errors.New("verification failure")
	ErrStoreFailure        = errors.New("store failure")

	// ErrLedgerUnavailable aborts a run: without the ledger no reservation can be trusted.
	ErrLedgerUnavailable = errors.New("fingerprint ledger unavailable")
	// ErrStoreUnavailable aborts a run when the knowledge store cannot be reached at all.
	ErrStoreUnavailable = errors.New("knowledge store unavailable")

	ErrRunNotFound = errors.New("run not found")
	ErrNotFound    = errors.New("not found")
)
