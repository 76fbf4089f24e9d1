package system

// Status summarizes where this node currently stands with respect to the
// system it has joined, or is joining (spec §4.7, §6). Advance returns the
// current Status every time it is called.
type Status int

const (
	// Anonymous is the status before any join attempt has produced a
	// derived object id: GetNetworkInfo has been sent but NetworkInfo has
	// not yet been answered.
	Anonymous Status = iota
	// PendingGrant means this node has derived its object id and sent a
	// JoinRequest, but a majority of alive voters have not yet granted it.
	PendingGrant
	// OK means this node is currently alive according to its own
	// Metatransactor.
	OK
	// Kicked means this node was alive and a majority vote has since denied
	// it.
	Kicked
	// OOM means a local resource bound was exceeded and this node can no
	// longer reliably track every peer (not currently triggered by any
	// fixed-size structure in this implementation; reserved for an
	// embedder-supplied peer cap).
	OOM
	// Fatal means an unrecoverable local condition occurred (e.g. this
	// system derived a forbidden object id and cannot join).
	Fatal
)

// String renders a Status for logging.
func (s Status) String() string {
	switch s {
	case PendingGrant:
		return "pending-grant"
	case OK:
		return "ok"
	case Kicked:
		return "kicked"
	case OOM:
		return "oom"
	case Fatal:
		return "fatal"
	default:
		return "anonymous"
	}
}
