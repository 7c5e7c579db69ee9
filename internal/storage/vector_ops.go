package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/lessonrag/pkg/types"
)

// searchNearest ranks scoped rows by cosine distance to the query
func searchNearest(ctx context.Context, q querier, query []float32, scope Scope, limit int) ([]types.RetrievedChunk, error) {
	if scope.Empty() || limit <= 0 {
		return []types.RetrievedChunk{}, nil
	}
	// Use SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchNearestOptimized(ctx, q, query, scope, limit)
	}
	return searchNearestFallback(ctx, q, query, scope, limit)
}

// scopeClause renders the WHERE clause for a scope
func scopeClause(scope Scope) (string, []interface{}) {
	placeholders := make([]string, len(scope.CourseIDs))
	args := make([]interface{}, 0, len(scope.CourseIDs)+1)
	for i, id := range scope.CourseIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	clause := "course_id IN (" + strings.Join(placeholders, ", ") + ")"
	if scope.LessonID != "" {
		clause += " AND lesson_id = ?"
		args = append(args, scope.LessonID)
	}
	return clause, args
}

// searchNearestOptimized computes distance with sqlite-vec's vec_distance_cosine
func searchNearestOptimized(ctx context.Context, q querier, query []float32, scope Scope, limit int) ([]types.RetrievedChunk, error) {
	where, scopeArgs := scopeClause(scope)
	stmt := `
		SELECT lesson_id, course_id, chunk_index, content,
		       vec_distance_cosine(vector, ?) AS distance
		FROM lesson_embeddings
		WHERE dimension = ? AND ` + where + `
		ORDER BY distance ASC, lesson_id ASC, chunk_index ASC
		LIMIT ?`

	args := []interface{}{serializeVector(query), len(query)}
	args = append(args, scopeArgs...)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.RetrievedChunk, 0, limit)
	for rows.Next() {
		var r types.RetrievedChunk
		if err := rows.Scan(&r.LessonID, &r.CourseID, &r.ChunkIndex, &r.Content, &r.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchNearestFallback loads scoped vectors and ranks them in Go
func searchNearestFallback(ctx context.Context, q querier, query []float32, scope Scope, limit int) ([]types.RetrievedChunk, error) {
	where, args := scopeClause(scope)
	stmt := `
		SELECT lesson_id, course_id, chunk_index, content, vector
		FROM lesson_embeddings
		WHERE ` + where

	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]types.RetrievedChunk, 0)
	for rows.Next() {
		var r types.RetrievedChunk
		var blob []byte
		if err := rows.Scan(&r.LessonID, &r.CourseID, &r.ChunkIndex, &r.Content, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(query) {
			continue // Dimension mismatch, skip
		}
		r.Distance = cosineDistance(query, vector)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByDistance(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// sortByDistance orders ascending by distance with a stable tie-break
func sortByDistance(c []types.RetrievedChunk) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Distance != c[j].Distance {
			return c[i].Distance < c[j].Distance
		}
		if c[i].LessonID != c[j].LessonID {
			return c[i].LessonID < c[j].LessonID
		}
		return c[i].ChunkIndex < c[j].ChunkIndex
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosine similarity, in [0, 2]; lower is closer
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// CosineDistance is an exported helper for callers ranking vectors in memory
func CosineDistance(a, b []float32) float64 {
	return cosineDistance(a, b)
}
