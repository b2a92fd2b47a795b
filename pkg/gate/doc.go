// Package gate decides whether an inbound websocket connection attempt may
// proceed, and wires up post-connection registration and cleanup.
//
// # Admission flow
//
// A connection attempt carries its credential as the access_token query
// parameter. The gate extracts it (failing closed on a missing or
// malformed query), decodes the owner identity from the signed claims, and
// then takes a per-identity lock to check the presence cache and, after
// the transport handshake completes, register the connection. Holding one
// identity-scoped lock across both the check and the registration makes
// admit-and-register atomic: two near-simultaneous attempts for the same
// identity can never both observe an empty slot.
//
// The identity used for close-time cleanup is the one decoded at
// admission, captured once and reused; it is never re-derived by a second
// parse of the request.
package gate
