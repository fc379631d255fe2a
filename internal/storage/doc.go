// Package storage persists the monitor's state document.
//
// The whole state (cursor + per-thread activity) is one JSON document. Every
// driver offers the same contract: Load returns the document and an opaque
// version; Save writes only if the stored version still equals the one the
// caller loaded, otherwise it returns ErrConflict and leaves the document
// untouched. Writes are all-or-nothing.
package storage
