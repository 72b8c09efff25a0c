// Package checklist holds the per-session building blocks of checklist
// execution: the answer cache overlay, the navigation cursor, the completion
// validator, and the summary aggregator. None of them touch the network.
//
// A question counts as answered when the authoritative sequence carries a
// response for it or the cache holds an entry for it. The two sources are
// overlaid, never summed, and the cache wins when both exist.
package checklist
