package identity

import (
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// Namespace classifies an identifier by its server suffix.
type Namespace int

const (
	// Other covers identifiers without a recognized suffix.
	Other Namespace = iota
	// Primary identifiers are stable and phone-number derived.
	Primary
	// Alias identifiers are opaque and rotate per linked identity.
	Alias
	// Group identifiers are never subject to aliasing.
	Group
)

func (n Namespace) String() string {
	switch n {
	case Primary:
		return "primary"
	case Alias:
		return "alias"
	case Group:
		return "group"
	default:
		return "other"
	}
}

var (
	primarySuffix = "@" + types.DefaultUserServer
	aliasSuffix   = "@" + types.HiddenUserServer
	groupSuffix   = "@" + types.GroupServer

	digitsRegexp = regexp.MustCompile(`^[0-9]+$`)
)

// Classify returns the namespace of id. Matching is case-insensitive.
func Classify(id string) Namespace {
	lower := strings.ToLower(id)
	switch {
	case strings.HasSuffix(lower, primarySuffix):
		return Primary
	case strings.HasSuffix(lower, aliasSuffix):
		return Alias
	case strings.HasSuffix(lower, groupSuffix):
		return Group
	default:
		return Other
	}
}

// IsPrimary reports whether id is in the Primary namespace.
func IsPrimary(id string) bool { return Classify(id) == Primary }

// IsAlias reports whether id is in the Alias namespace.
func IsAlias(id string) bool { return Classify(id) == Alias }

// Normalize trims id and strips the agent/device part of Primary identifiers,
// so "5511:3@s.whatsapp.net" and "5511@s.whatsapp.net" key the same chat.
// Other namespaces are returned trimmed but otherwise untouched.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if Classify(id) != Primary {
		return id
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return id
	}
	return jid.ToNonAD().String()
}

// FromInput turns user input into an identifier: a bare phone number becomes
// a Primary identifier, anything else is normalized as-is.
func FromInput(s string) string {
	s = strings.TrimSpace(s)
	if digitsRegexp.MatchString(s) {
		return types.NewJID(s, types.DefaultUserServer).String()
	}
	return Normalize(s)
}

// Pretty strips the Primary and Group suffixes for display.
func Pretty(id string) string {
	if id == "" {
		return id
	}
	switch Classify(id) {
	case Primary:
		return id[:len(id)-len(primarySuffix)]
	case Group:
		return id[:len(id)-len(groupSuffix)]
	default:
		return id
	}
}

// DisplayName prefers the Primary identifier, then the Alias one marked as
// such. Returns "" when both are empty.
func DisplayName(primary, alias string) string {
	if primary != "" {
		return Pretty(primary)
	}
	if alias != "" {
		return Pretty(alias) + " (LID)"
	}
	return ""
}

// PickKey returns the conversation key for an event: Primary wins over Alias.
func PickKey(primary, alias string) string {
	if primary != "" {
		return primary
	}
	return alias
}
