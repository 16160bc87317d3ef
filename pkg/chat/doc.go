// Package chat orchestrates a conversation turn across the validator, the
// in-memory store and the upstream LLM provider.
//
// Invariants:
// - Validation failures never touch the store.
// - Upstream failures are recovered into a persisted apology turn; the
//   original error text stays in metadata and logs.
// - There is no per-session serialization: overlapping submissions to the
//   same session append in whichever order their upstream calls resolve.
package chat
