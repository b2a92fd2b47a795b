package presence

// Conn is a live bidirectional channel to one client. Implementations must
// be safe for concurrent writes or serialize internally; the hub may call
// Send and Ping from different goroutines.
type Conn interface {
	// Send delivers one envelope. Implementations should bound the write
	// with a deadline so a slow client cannot stall the caller.
	Send(env Envelope) error

	// Ping probes connection liveness.
	Ping() error

	// Close tears down the transport.
	Close() error
}

// Entry is the presence record of one principal's live connection.
type Entry struct {
	// Email is the owning principal identity.
	Email string
	// Token is the credential the connection authenticated with.
	Token string
	// Conn is the live channel. The hub is the sole mutator of entries but
	// never writes to Conn under its lock.
	Conn Conn
}
