// Package feed reads the upstream proxy list.
//
// The upstream publishes a small meta document whose timestamp changes
// whenever the lists are regenerated, and one plain text list per protocol
// with a proxy address on each line. FetchChangeToken returns that timestamp;
// FetchCandidates returns the normalized union of both lists.
//
// Every endpoint sits behind its own circuit breaker so an unreachable CDN
// is not hammered on every discovery sync.
package feed
