// Package policy defines the matching rule consulted before any signaling
// message is relayed.
//
// A Policy is chosen once at startup and never changes while connections are
// live. Public lets any connection address any other (or broadcast); Private
// reserves a pairing key for exactly two connections, which may then only
// address each other.
package policy
