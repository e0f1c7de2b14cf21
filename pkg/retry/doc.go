// Package retry re-runs transient failures with backoff.
//
// Errors are classified through pkg/errors: network, rate limit and server
// errors are retried, everything else fails immediately. Wrap an error with
// Permanent to stop retrying from inside an operation.
//
//	cfg := retry.FromConfig(appCfg.Retry, log)
//	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
//	    return fetch(ctx, url)
//	})
package retry
