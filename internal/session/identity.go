package session

import "github.com/opencode-ai/claudia/pkg/types"

// IdentityResolver learns the authoritative session id of a turn from the
// agent's system/init message.
//
// The id requested on resume is advisory: the first init id seen in a turn
// wins even when it differs. Later init lines in the same turn report the
// known id and nothing new, whatever id they carry.
type IdentityResolver struct {
	known string
}

// Observe inspects msg and reports the session id it announces and whether
// that id is newly discovered.
func (r *IdentityResolver) Observe(msg *types.StreamMessage) (string, bool) {
	if msg == nil || !msg.IsInit() || msg.SessionID == "" {
		return "", false
	}
	if r.known != "" {
		return r.known, false
	}
	r.known = msg.SessionID
	return msg.SessionID, true
}

// Known returns the id discovered in this turn.
func (r *IdentityResolver) Known() string {
	return r.known
}

// Reset forgets the known id so the next turn performs its own discovery.
func (r *IdentityResolver) Reset() {
	r.known = ""
}
