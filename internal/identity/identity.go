// Package identity validates wallet addresses and derives conversation ids.
package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/walletchat/internal/domain"
)

// Separator joins the two participants of a direct conversation id. Base58
// addresses never contain it.
const Separator = "_"

// IsAddress reports whether s is a valid Neo N3 wallet address.
func IsAddress(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	_, err := address.StringToUint160(s)
	return err == nil
}

// DirectConversationID returns the symmetric id of the conversation between a and b.
func DirectConversationID(a, b string) (string, error) {
	if !IsAddress(a) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAddress, a)
	}
	if !IsAddress(b) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAddress, b)
	}
	if a == b {
		return "", fmt.Errorf("%w: participants must differ", domain.ErrInvalidAddress)
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// ParseDirectConversationID splits a direct conversation id into its participants.
func ParseDirectConversationID(id string) (string, string, bool) {
	a, b, ok := strings.Cut(id, Separator)
	if !ok || !IsAddress(a) || !IsAddress(b) || a >= b {
		return "", "", false
	}
	return a, b, true
}

// IsDirect reports whether id is a direct conversation id.
func IsDirect(id string) bool {
	_, _, ok := ParseDirectConversationID(id)
	return ok
}

// Peer returns the other participant of a direct conversation.
func Peer(id, self string) (string, bool) {
	a, b, ok := ParseDirectConversationID(id)
	switch {
	case !ok:
		return "", false
	case self == a:
		return b, true
	case self == b:
		return a, true
	default:
		return "", false
	}
}

// NewGroupID returns a fresh opaque group conversation id.
func NewGroupID() string {
	return uuid.NewString()
}
