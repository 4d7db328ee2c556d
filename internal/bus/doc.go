// Package bus defines the transport port the link layer runs on.
//
// Ownership boundary:
// - numeric bus addresses and 48-bit offsets
// - persistent peer identities (GUIDs)
// - the Port capability consumed by the node layer
// - block handler and topology hook capabilities
//
// Platform drivers implement Port. The in-memory simbus package is the
// reference implementation used by tests and the hssctl demo.
package bus
