// Package protocol owns the peer wire contract and parsing primitives.
//
// Ownership boundary:
// - payload escaping (Encode/Decode)
// - line framing: token SP payload LF
// - command token grammar
// - receive-side line reassembly (Splitter)
//
// Message semantics live with the connection owner (internal/buddy).
package protocol
