package domain

import "time"

// ConnectionIdleTimeout is how long a connection may stay silent before the
// periodic cleanup treats it as dead. Connections that disappear without a
// close frame are reaped by this, not by the transport.
const ConnectionIdleTimeout = 5 * time.Minute

// ConnectionRecord tracks one live push connection. Anonymous viewers are
// allowed, so UserID and Role may be empty.
type ConnectionRecord struct {
	ID           string
	UserID       string
	Role         string
	Alive        bool
	ConnectedAt  time.Time
	LastActivity time.Time
	Messages     uint64
	Errors       uint64
}
