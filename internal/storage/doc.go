// Package storage persists lessons and their chunk embeddings.
//
// Two backends implement Storage:
//   - SQLiteStorage: embedded, used by the CLI and tests (":memory:" works)
//   - PostgresStorage: PostgreSQL with the pgvector extension
//
// # Schema
//
// Tables:
//   - lessons: the lesson store (id, course_id, title, content, updated_at)
//   - lesson_embeddings: one row per (lesson_id, chunk_index) holding the
//     chunk text, its SHA-256 content hash and the embedding vector
//
// The (lesson_id, chunk_index) primary key makes UpsertEmbedding an
// overwrite. After a lesson has been re-chunked into N chunks, DeleteBeyond
// with N-1 removes the tail left over from a longer previous version.
//
// # Basic Usage
//
//	store, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: "lessons.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	hashes, _ := store.ChunkHashes(ctx, "lesson-1", 768)
//	_ = store.UpsertEmbedding(ctx, &types.EmbeddingRecord{...})
//	deleted, _ := store.DeleteBeyond(ctx, "lesson-1", 1)
//
// # Vector Search
//
// SearchNearest orders rows by ascending cosine distance. A Scope without
// course ids matches nothing. SQLite uses vec_distance_cosine from the
// sqlite-vec extension in CGO builds and computes distances in Go
// otherwise; Postgres uses the <=> operator over an HNSW index.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag, the default):
//
//	CGO_ENABLED=0 go build -tags "purego"
package storage
