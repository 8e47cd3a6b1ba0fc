package domain

// Identity is the user a connection is bound to once its handshake
// credential has been verified. It never changes for a given connection.
type Identity struct {
	UserID   string
	Username string
}

// PresenceEntry is the projection of one registry entry sent to clients.
// Unbound connections project to empty fields.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (i *Identity) Presence() PresenceEntry {
	if i == nil {
		return PresenceEntry{}
	}
	return PresenceEntry{UserID: i.UserID, Username: i.Username}
}
