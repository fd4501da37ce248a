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


// Package storage defines the persistence gateway every backend implements.
//
// The Gateway is the only write path to the store. Each method is one unit of
// work: a source and its chunk set are written together or not at all, so a
// reader never sees a source without its chunks or chunks of two versions.
//
// # Backends
//
//   - sqlite: single-file store for local runs (modernc.org/sqlite, no cgo)
//   - postgres: shared store with pgvector columns (pgx, pgvector-go)
//   - badger: embedded key-value store, also used in memory by tests
//
// Open a backend directly:
//
//	store, err := sqlite.Open(ctx, "data/civicrag.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Backends with an explicit schema implement Migrator. Migrate is idempotent.
//
// # Conformance
//
// The storagetest package holds the behaviour every backend must show.
// Backend tests call storagetest.Run with a factory for a fresh store.
//
// # Errors
//
// Failed writes wrap core.ErrPersistence. Calls after Close return
// ErrStorageClosed, which the ingestion pipeline treats as a hard stop.
package storage
