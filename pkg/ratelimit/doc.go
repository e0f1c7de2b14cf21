// Package ratelimit throttles requests issued by the download executors.
//
// TokenBucket allows short bursts and refills continuously; SlidingWindow
// enforces a hard count per interval. HostLimiter keeps a separate limiter
// per host:
//
//	limits := ratelimit.FromConfig(cfg.RateLimit)
//	if err := limits.Wait(ctx, target.URL); err != nil {
//	    return err // ctx cancelled
//	}
package ratelimit
