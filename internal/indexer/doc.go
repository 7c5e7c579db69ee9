// Package indexer keeps lesson embeddings in step with lesson content.
//
// # Basic Usage
//
//	idx := indexer.New(store, client, indexer.WithLogger(logger))
//
//	result, err := idx.Run(ctx, indexer.ByCourse("course-1"), indexer.Options{
//	    MaxEmbeddingsPerRun: 100,
//	    Concurrency:         3,
//	})
//
//	fmt.Printf("embedded %d, skipped %d, deleted %d\n",
//	    result.Embedded, result.Skipped, result.Deleted)
//
// # Pipeline
//
// For each selected lesson:
//
//  1. Chunk title + content (chunker.Chunk)
//  2. Hash every chunk and compare with the stored hash at the same index
//  3. Skip matching chunks unless Force is set
//  4. Reserve one call from the run budget per remaining chunk
//  5. Embed reserved chunks on a bounded worker pool and upsert each result
//  6. Delete stored rows beyond the new last chunk index
//
// DryRun stops after step 4 and reports projected counts and tokens.
//
// # Budget
//
// MaxEmbeddingsPerRun caps provider calls across the whole run, retries
// included. Chunks that find the budget empty are reported as Deferred, and
// the run stops before the next lesson with StoppedReason "budget exhausted".
// Rerunning with Force=false picks up exactly the chunks that are missing.
//
// # Errors
//
// Chunk and lesson failures are collected in RunResult.Errors and never stop
// the batch. Run itself only fails on invalid options or selectors, a missing
// embedder, or when the candidate lessons cannot be listed.
//
// # Concurrency
//
// Lessons run one after another; chunks of a lesson run on up to
// Options.Concurrency workers. A LessonGuard keeps two runs in the same
// process off the same lesson. Separate processes must coordinate
// themselves.
package indexer
