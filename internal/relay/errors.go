package relay

import (
	"errors"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/policy"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
)

var (
	// ErrUnauthorized is returned when the source id is not registered. The
	// client must register again.
	ErrUnauthorized     = errors.New("unknown connection id")
	ErrMalformedMessage = errors.New("malformed message")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// Wire codes reported to clients.
const (
	CodeResourceExhausted  = "resource_exhausted"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeInvalidDestination = "invalid_destination"
	CodeKeyAlreadyPaired   = "key_already_paired"
	CodeAlreadyJoined      = "already_joined"
	CodeBadMessage         = "bad_message"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

// Code maps an error returned by this package to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, registry.ErrResourceExhausted):
		return CodeResourceExhausted
	case errors.Is(err, ErrUnauthorized), errors.Is(err, registry.ErrUnknownConnection), errors.Is(err, policy.ErrNotRegistered):
		return CodeUnauthorized
	case errors.Is(err, policy.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, policy.ErrInvalidDestination):
		return CodeInvalidDestination
	case errors.Is(err, policy.ErrKeyAlreadyPaired):
		return CodeKeyAlreadyPaired
	case errors.Is(err, policy.ErrAlreadyJoined):
		return CodeAlreadyJoined
	case errors.Is(err, ErrMalformedMessage):
		return CodeBadMessage
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
