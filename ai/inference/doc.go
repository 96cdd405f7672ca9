// Package inference implements ai.Embedder against a model inference
// endpoint that accepts {"inputs": text} and answers with an embedding in
// one of several loosely specified shapes.
//
// Responses are reduced to a flat []float32 by an ordered set of pure
// normalization rules (see Normalize). Failed requests are retried with a
// retry.Machine: an ordinary failure waits RetryDelay, while a failure
// whose message mentions "Worker died" waits attempt × WorkerDiedDelay.
//
// Example:
//
//	client, err := inference.NewClient(ai.NewConfig(
//	    ai.WithEmbeddingHost("https://runtime.example.com/endpoints/minilm/invocations"),
//	    ai.WithAPIKey(os.Getenv("EMBEDDING_API_KEY")),
//	))
//	if err != nil {
//	    return err
//	}
//	vec, err := client.Embed(ctx, "some text", 3)
package inference
