// Package signaling exposes the relay over HTTP.
//
// Exactly one transport is mounted at /signaling, chosen at startup:
//   - websocket: GET /signaling upgrades to a persistent socket. Queued
//     messages are pushed as they arrive.
//   - http: POST /signaling registers, relays and polls in one round trip.
//     DELETE /signaling?id= unregisters explicitly.
//
// Both transports share the same relay core and the same JSON encodings, so
// identical message sequences produce identical outcomes.
package signaling
