// Package testutil provides shared fixtures for walletchat tests.
package testutil

import (
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Address returns a deterministic valid Neo N3 address for seed.
func Address(seed byte) string {
	var u util.Uint160
	for i := range u {
		u[i] = seed ^ byte(i*7)
	}
	u[0] = seed
	return address.Uint160ToString(u)
}

// Addresses returns n distinct addresses starting at seed.
func Addresses(seed byte, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Address(seed + byte(i))
	}
	return out
}
