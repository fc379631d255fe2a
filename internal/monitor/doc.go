// Package monitor decides when a play-by-post topic has gone quiet.
//
// One Run folds new events into the persisted per-topic activity, evaluates
// every configured pair against the silence threshold, posts due alerts and
// writes the state back with a compare-and-swap. Overlapping runs are safe:
// the loser of the swap writes nothing.
package monitor
