// Package uuidx derives the identifiers of a workstation and its broker
// connections.
package uuidx

import (
	"strconv"

	"github.com/google/uuid"
)

// New generates a version 7 UUID. It panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NodeID returns the 48 bit hardware address of the host as a decimal
// string. When no hardware address is available a random node id is used,
// which stays stable for the lifetime of the process only.
func NodeID() string {
	return nodeIDString(uuid.NodeID())
}

func nodeIDString(node []byte) string {
	var n uint64
	for _, b := range node {
		n = n<<8 | uint64(b)
	}
	return strconv.FormatUint(n, 10)
}

// ClientID returns a broker client id made of prefix and a short random
// suffix, so two processes of the same workstation never evict each other.
func ClientID(prefix string) string {
	return prefix + "-" + New().String()[24:]
}
