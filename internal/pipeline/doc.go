// Package pipeline provides the per-tenant retrieval-augmented generation engine.
//
// An Orchestrator answers a query by running three outbound stages in order,
// each consuming the previous stage's output:
//
//	embed(query)            -> vector
//	search(vector, k)       -> ranked documents
//	complete(query, ctx)    -> answer
//
// Between search and complete the documents are joined with a blank line and
// trimmed from the front to the context token budget, so the most recently
// appended documents survive. The caller always receives the untrimmed
// documents as sources.
//
// # Failure handling
//
// Every stage attempt runs under that stage's own timeout. Transport faults,
// timeouts and non-success responses are retried with exponential backoff up
// to the tenant's attempt limit; any other failure, or the last retryable
// one, ends the call. A failed stage fails the whole call with a
// *domain.PipelineError that carries the stage failure unchanged:
//
//	var stageErr *domain.Error
//	if errors.As(err, &stageErr) && stageErr.Kind == domain.ErrorKindUpstream {
//		// stageErr.StatusCode, stageErr.Body
//	}
//
// An empty search result is not a failure: the completion stage receives the
// context "No relevant documents found." and the sources are empty.
package pipeline
