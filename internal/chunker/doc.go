// Package chunker splits lesson text into bounded, order-preserving chunks
// and hashes chunk content for change detection.
//
// # Basic Usage
//
//	text := chunker.LessonText(lesson.Title, lesson.Content)
//	for _, c := range chunker.Chunk(text, 1500) {
//	    fmt.Printf("chunk %d: %s\n", c.Index, chunker.Hash(c.Content))
//	}
//
// # Chunking Strategy
//
// Text is normalized first (line endings, runs of spaces, runs of blank
// lines). Paragraphs are then packed greedily up to the character budget.
// Oversized paragraphs are split between words; a single word longer than the
// budget is emitted on its own.
//
// Chunking is deterministic: the same input always produces the same
// boundaries and indices, which is what lets the indexer compare hashes by
// chunk index across runs.
//
// # Token Estimates
//
// HeuristicCounter uses chars/4. TiktokenCounter uses a real BPE encoding and
// is used for dry-run capacity planning.
package chunker
