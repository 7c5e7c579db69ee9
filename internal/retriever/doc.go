// Package retriever serves nearest-chunk queries over indexed lessons.
//
// A query is embedded with the retrieval-query task hint, checked against
// the configured dimension, and matched against stored chunks restricted to
// a Scope (course ids, optionally one lesson). Results come back ordered by
// ascending cosine distance.
//
//	r := retriever.New(store, client)
//	chunks, err := r.Retrieve(ctx, "what is a closure?",
//	    storage.Scope{CourseIDs: []string{"go-101"}}, 5)
//
// An empty scope, or a scope with no indexed chunks, returns an empty
// slice and no error. Query embedding uses a short retry policy since
// callers are usually waiting on the answer.
package retriever
