// Package relay routes signaling messages between registered connections.
//
// Relay is transport independent: it validates a message, asks the configured
// policy which connections it may reach, and enqueues it into their mailboxes.
// It never performs I/O and never waits on another client; transports own all
// delivery (push over a socket, or return on the next poll).
package relay
