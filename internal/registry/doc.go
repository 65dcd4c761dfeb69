// Package registry is the authoritative in-memory table of live signaling
// connections.
//
// Each connection owns a FIFO mailbox of pending messages. Transports read
// mailboxes exclusively through Drain, which empties the mailbox atomically so
// a message is delivered at most once. Nothing in this package performs I/O.
package registry
