package presence

// Envelope is the wire format for realtime messages.
type Envelope struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Date    int64  `json:"date"`
}

// Envelope types understood by clients. Application-defined types pass
// through unchanged.
const (
	// TypeOnline carries the roster snapshot: content is the comma-joined
	// list of currently online identities.
	TypeOnline = "online"
	// TypeLogin announces a newly registered identity.
	TypeLogin = "login"
	// TypeLogout announces a departed identity.
	TypeLogout = "logout"
	// TypePrivate is a direct message between two identities.
	TypePrivate = "private"
)
