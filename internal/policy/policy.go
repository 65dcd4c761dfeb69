package policy

import (
	"errors"
	"fmt"
)

// Broadcast is the destination value meaning "every connection except the
// sender". It is only accepted in public mode.
const Broadcast = "*"

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrKeyAlreadyPaired   = errors.New("pairing key already paired")
	ErrAlreadyJoined      = errors.New("connection already holds a pairing key")
	// ErrNotRegistered is returned by Join when id has already left the
	// registry, so a departed connection can never hold a key.
	ErrNotRegistered = errors.New("connection is not registered")
)

type Mode string

const (
	ModePublic  Mode = "public"
	ModePrivate Mode = "private"
)

// Peers is the read-only view of live connections a Policy needs.
type Peers interface {
	Contains(id string) bool
	IDs() []string
}

// Policy decides which connections a sender may reach.
//
// Implementations are safe for concurrent use; each method is atomic with
// respect to the others.
type Policy interface {
	Mode() Mode

	// Join presents a pairing key for id. It returns the partner id when the
	// call completes a session, or "" when id is now waiting (or the policy
	// does not pair). Liveness of id is checked against peers under the same
	// lock Leave takes; the registry removes a connection before calling
	// Leave, so a Leave that wins the race always makes Join fail.
	Join(id, key string, peers Peers) (partner string, err error)

	// Authorize resolves dst for a message from src into the concrete set of
	// destination ids. An empty result with a nil error is valid.
	Authorize(src, dst string, peers Peers) ([]string, error)

	// Leave drops all pairing state held by id and returns the partner that
	// was matched with it, if any.
	Leave(id string) (partner string)

	// Partner returns the current session partner of id, or "".
	Partner(id string) string
}

// New builds the policy for mode. It is the single point where the relay's
// matching rule is configured.
func New(mode Mode) (Policy, error) {
	switch mode {
	case ModePublic:
		return NewPublic(), nil
	case ModePrivate:
		return NewPrivate(), nil
	default:
		return nil, fmt.Errorf("unsupported signaling mode %q", mode)
	}
}
