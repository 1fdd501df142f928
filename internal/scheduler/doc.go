// Package scheduler drives the proxy pool: one control loop that ticks on a
// fixed period and, on every tick, runs
//
//	discovery sync (gated) -> recovery probe -> revalidation (gated) -> cleanup
//
// Discovery sync and revalidation have their own intervals, measured from
// the last time each one ran on the injected clock. Recovery and cleanup run
// on every tick.
//
// A failing pass is logged and collected in the TickReport; the remaining
// passes of that tick still run. A registry failure that survived its own
// retries stops the loop with a *FatalWorkerError.
package scheduler
