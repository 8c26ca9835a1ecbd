// Package backoff provides bounded retries with exponential backoff for
// device transport operations.
//
// Vendor port transfers can fail transiently (USB stalls, bus resets). Callers
// retry those failures a small number of times before giving up:
//
//	delay(n) = min(Initial * Multiplier^n, Max) + random(0, delay * Jitter)
//
// Only errors accepted by the retryable predicate are retried. The default
// predicate accepts fault.ErrTransientIO; every other error is returned
// immediately. Delays are spent on an injected clock.Clock so tests run
// without real sleeps.
package backoff
