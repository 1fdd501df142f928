// Package strategy defines how a single proxy is picked out of the working set.
//
// Strategies operate on positions in a list already ordered fastest first, so they
// stay independent of how records are stored:
//
//   - Fastest: always the lowest-latency proxy
//   - Random: uniform selection across the whole list
//   - Fastest-biased: with probability bias, uniform among the faster half;
//     otherwise uniform across the whole list
//
// All strategies are safe for concurrent use.
package strategy
