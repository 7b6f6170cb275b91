// Package identity generates the local peer's 20-byte wire identity.
package identity

import "github.com/google/uuid"

// clientTag is the Azureus-style client identification prefix: two
// letters naming the client and a four-digit version, dash-delimited.
const clientTag = "-BU0000-"

// PeerID generates a fresh 20-byte peer id: the fixed clientTag
// followed by 12 bytes of randomness drawn from a UUIDv4, truncated
// to fill out the remaining length.
func PeerID() [20]byte {
	var id [20]byte
	copy(id[:], clientTag)
	u := uuid.New()
	copy(id[len(clientTag):], u[:20-len(clientTag)])
	return id
}
