// Package async provides small concurrency primitives used by the auth and
// presence core.
//
// # Key Components
//
// KeyedMutex: per-key mutual exclusion, used to serialize the websocket
// admission check-and-register sequence per identity and to serialize
// concurrent refresh attempts on the same refresh token:
//
//	unlock := locks.Lock(email)
//	defer unlock()
//
// SafeGo: goroutine execution with panic recovery and a bounded timeout,
// used for fire-and-forget work such as presence cleanup on token expiry.
package async
