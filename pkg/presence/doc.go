// Package presence tracks at most one live realtime connection per
// authenticated principal and mediates presence-change broadcasts.
//
// # Single-session policy
//
// Register is a compare-and-set insert: a second registration for the same
// identity fails with ErrAlreadyPresent and leaves the first connection in
// place. The new attempt is rejected rather than evicting the old session;
// this is a deliberate product policy, not an implementation shortcut.
//
// # Delivery semantics
//
// Presence is best-effort, not a durable mailbox. A private send to an
// offline identity is dropped and logged. Broadcast isolates per-recipient
// failures: one broken connection never prevents delivery to the rest, and
// a failed send triggers cleanup of the broken entry.
//
// # Liveness
//
// PingAll sends a ping to every registered connection; a ping failure is
// treated as a disconnect and the entry is dropped immediately, bounding
// how long a half-open connection can occupy the single session slot.
package presence
