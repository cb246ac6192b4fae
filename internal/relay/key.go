package relay

import (
	"fmt"
)

// Key identifies one relay: a single server-held push channel for a
// (user, app domain, stream) triple. At most one relay per key is
// open at any time.
type Key string

// NewKey derives the registry key for a relay. User and app are
// length-prefixed so no pair of identifiers can produce the same key
// as a different pair; the stream id is appended in decimal.
func NewKey(user, app string, stream StreamID) Key {
	return Key(fmt.Sprintf("%d:%s/%d:%s/%d", len(user), user, len(app), app, int(stream)))
}
