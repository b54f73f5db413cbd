package enums

import "fmt"

// EventCategory maps to the event_category enum in Postgres and mirrors the
// information types carried by the upstream population-registry stream.
type EventCategory string

const (
	CategoryAddressProtection  EventCategory = "ADDRESS_PROTECTION"
	CategoryResidentialAddress EventCategory = "RESIDENTIAL_ADDRESS"
	CategoryDeath              EventCategory = "DEATH"
	CategoryBirth              EventCategory = "BIRTH"
	CategoryNationalID         EventCategory = "NATIONAL_ID"
	CategoryImmigration        EventCategory = "IMMIGRATION"
	CategoryName               EventCategory = "NAME"
	CategoryEmigration         EventCategory = "EMIGRATION"
	CategoryMaritalStatus      EventCategory = "MARITAL_STATUS"
	CategoryGuardianship       EventCategory = "GUARDIANSHIP"
	CategoryUnsupported        EventCategory = "UNSUPPORTED"
)

var validEventCategories = []EventCategory{
	CategoryAddressProtection,
	CategoryResidentialAddress,
	CategoryDeath,
	CategoryBirth,
	CategoryNationalID,
	CategoryImmigration,
	CategoryName,
	CategoryEmigration,
	CategoryMaritalStatus,
	CategoryGuardianship,
	CategoryUnsupported,
}

// IsValid reports whether the value matches the canonical event_category enum.
func (c EventCategory) IsValid() bool {
	for _, candidate := range validEventCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseEventCategory converts raw input into EventCategory. Unrecognized
// values map to CategoryUnsupported so intake can count and drop them.
func ParseEventCategory(value string) EventCategory {
	for _, candidate := range validEventCategories {
		if string(candidate) == value {
			return candidate
		}
	}
	return CategoryUnsupported
}

// String implements fmt.Stringer for log fields and metric labels.
func (c EventCategory) String() string {
	return string(c)
}

var _ fmt.Stringer = CategoryUnsupported
