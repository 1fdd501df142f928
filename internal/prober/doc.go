// Package prober tests proxy endpoints by sending one request through each
// proxy to a fixed probe target.
//
// A probe passes when the target answers 200 with a well-formed JSON body
// within the per-test timeout. An XSSI guard prefix such as )]}' is stripped
// before the body is checked. All probes share a single pooled transport.
//
// TestBatch runs many probes with a hard ceiling on how many are in flight:
//
//	p, _ := prober.New(cfg, logger)
//	for res := range p.TestBatch(ctx, urls, 500) {
//	    // fold res into the registry
//	}
//
// The results channel must be drained.
package prober
