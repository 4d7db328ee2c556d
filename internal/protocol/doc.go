// Package protocol owns the tagged-block wire contract.
//
// Ownership boundary:
// - tag byte values and their classification
// - Message split/merge primitives used by framing
// - control block encoding (change address, ping, ping response)
//
// Every transport block is one tag byte followed by at most BlockPayload
// bytes. There is no length prefix; message boundaries are recovered by the
// frame package.
package protocol
