// Package embedder turns text into validated embedding vectors.
//
// A Provider makes one call to an embedding backend (OpenAI-compatible,
// Jina AI, Gemini, or the offline local provider). Client wraps a provider
// and rejects any response whose length differs from the configured
// dimensionality with a *DimensionMismatchError. Retrier adds bounded
// retries with exponential backoff on top of a Client.
//
// # Basic Usage
//
//	provider, err := embedder.New(embedder.Config{
//	    Provider: "openai",
//	    APIKey:   os.Getenv(embedder.EnvOpenAIAPIKey),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := embedder.NewClient(provider, 768)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	retrier := embedder.NewRetrier(client, embedder.DefaultRetryPolicy())
//	vec, err := retrier.Embed(ctx, "Photosynthesis converts light into chemical energy.")
//
// # Error Classification
//
// Provider failures are reported as *ProviderError. HTTP 408, 425, 429 and
// 5xx responses, network failures, and bodies carrying RESOURCE_EXHAUSTED or
// UNAVAILABLE are transient. Other 4xx responses (bad key, malformed
// request) are terminal. IsTransient is the default retry predicate:
//
//	var pe *embedder.ProviderError
//	if errors.As(err, &pe) && !pe.Transient {
//	    // fix configuration, retrying will not help
//	}
//
// # Retry Policy
//
// RetryPolicy is an explicit value: MaxAttempts (every call counts, the
// first included), BaseDelay, MaxDelay, Multiplier and an IsRetryable
// predicate. BeforeRetry can veto a retry, which the indexer uses to charge
// retries against its run budget. Sleep can be replaced in tests.
//
// # Caching
//
// Query vectors can be cached in an LRU keyed by content hash:
//
//	client, _ := embedder.NewClient(provider, 768, embedder.WithCache(embedder.NewCache(1000)))
//	vec, _ := client.EmbedQuery(ctx, "what is osmosis?")
//
// Cached vectors are copied on the way in and out.
//
// # Rate Limiting
//
// Remote providers accept RequestsPerSecond/Burst and wait on a token
// bucket before each request, so a high concurrency setting does not
// immediately trip provider throttling.
package embedder
