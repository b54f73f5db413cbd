package enums

import "fmt"

// ChangeKind maps to the change_kind enum in Postgres. The upstream registry
// marks every event with how the underlying information changed.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "CREATED"
	ChangeCorrected ChangeKind = "CORRECTED"
	ChangeAnnulled  ChangeKind = "ANNULLED"
	ChangeClosed    ChangeKind = "CLOSED"
)

var validChangeKinds = []ChangeKind{
	ChangeCreated,
	ChangeCorrected,
	ChangeAnnulled,
	ChangeClosed,
}

// IsValid reports whether the value matches the canonical change_kind enum.
func (k ChangeKind) IsValid() bool {
	for _, candidate := range validChangeKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseChangeKind converts raw input into ChangeKind. An unknown kind is a
// malformed message, not a droppable one, so the error propagates.
func ParseChangeKind(value string) (ChangeKind, error) {
	for _, candidate := range validChangeKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid change kind %q", value)
}
