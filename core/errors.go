// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import "errors"

// ErrorKind classifies the error kinds the core's error-handling design
// distinguishes. Each kind carries a distinct retry/propagation policy
// in the pipeline and query planner.
type ErrorKind string

const (
	KindIngestRejected      ErrorKind = "ingest_rejected"
	KindEmbeddingUnavailable ErrorKind = "embedding_unavailable"
	KindStoreBusy            ErrorKind = "store_busy"
	KindStoreCorrupt         ErrorKind = "store_corrupt"
	KindIndexOutOfSync       ErrorKind = "index_out_of_sync"
	KindQueryTimeout         ErrorKind = "query_timeout"
	KindQueryInvalid         ErrorKind = "query_invalid"
	KindConfigInvalid        ErrorKind = "config_invalid"
)

// Sentinel errors, one per ErrorKind, wrapped with context via fmt.Errorf
// at call sites. Callers match with errors.Is.
var (
	// ErrIngestRejected indicates a capture was not admitted (safety,
	// dedup, deadline, or queue-full reasons carry a Dropped event
	// alongside this error rather than a richer error value).
	ErrIngestRejected = errors.New("capture rejected")

	// ErrEmbeddingUnavailable indicates the embedding model is not
	// loaded; retryable.
	ErrEmbeddingUnavailable = errors.New("embedding model unavailable")

	// ErrStoreBusy indicates a transient contention error; retry with
	// jitter.
	ErrStoreBusy = errors.New("store busy")

	// ErrStoreCorrupt indicates a fatal, row-scoped corruption; the row
	// is quarantined, the process keeps running.
	ErrStoreCorrupt = errors.New("store corrupt")

	// ErrIndexOutOfSync indicates the vector index and record store
	// have drifted; resolved by the orphan-scan, never surfaced to
	// callers directly.
	ErrIndexOutOfSync = errors.New("vector index out of sync")

	// ErrQueryTimeout indicates a query's deadline elapsed before any
	// result could be produced.
	ErrQueryTimeout = errors.New("query timed out")

	// ErrQueryInvalid indicates malformed query parameters.
	ErrQueryInvalid = errors.New("invalid query")

	// ErrConfigInvalid indicates a configuration value failed
	// validation.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly indicates the core is in read-only degraded mode
	// (fatal store error, or a re-embedding migration in progress) and
	// is not accepting writes.
	ErrReadOnly = errors.New("core is read-only")
)

// DropReason names why a capture was not committed. Carried on Dropped
// events, never surfaced as a Go error by itself.
type DropReason string

const (
	ReasonFull        DropReason = "full"
	ReasonSafetyError DropReason = "safety_error"
	ReasonExactDup     DropReason = "exact_dup"
	ReasonNearDup      DropReason = "near_dup"
	ReasonDeadline     DropReason = "deadline"
	ReasonRetryExhausted DropReason = "retry_exhausted"
)
