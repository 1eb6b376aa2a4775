// Package resilience holds the retry and rate limiting primitives used by
// processes that talk to slow or flaky computations.
//
// A Policy retries an operation with exponential backoff and jitter. Errors
// carrying an engine error kind are never retried: they describe bad
// configuration or lifecycle misuse, which another attempt will not fix.
//
//	policy, err := resilience.PolicyFromBlock(name, block.Subblock("retry"))
//	out, err := resilience.Do(ctx, policy, func(ctx context.Context) (int, error) {
//	    return compute(ctx, in)
//	})
//
// A Limiter is a token bucket. Wait blocks until a token is available or the
// context ends.
package resilience
