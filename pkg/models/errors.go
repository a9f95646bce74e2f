package models

import "errors"

var (
	// ErrIndexMissing means no persisted index exists at the path; build must run first
	ErrIndexMissing = errors.New("index missing")
	// ErrIndexCorrupt means metadata, row table and vectors disagree
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrModelMismatch means the query embedder differs from the one used at build time
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrInvalidArgument is returned for non-positive k, max replies or max depth
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmbeddingFailure wraps embedder backend errors
	ErrEmbeddingFailure = errors.New("embedding failure")
)
