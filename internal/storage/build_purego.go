//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// Lessons and embeddings live in a pure Go SQLite without sqlite-vec.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Cosine distances are computed in Go over the scoped candidate rows,
// which is fine for course-sized collections.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
