package enums

// Classification is the sensitivity level the registry attaches to an event
// subject. Address-protection events carry one of the confidential levels.
type Classification string

const (
	ClassificationUnclassified            Classification = "UNCLASSIFIED"
	ClassificationConfidential            Classification = "CONFIDENTIAL"
	ClassificationStrictlyConfidential    Classification = "STRICTLY_CONFIDENTIAL"
	ClassificationStrictlyConfidentialAbr Classification = "STRICTLY_CONFIDENTIAL_ABROAD"
)

var validClassifications = []Classification{
	ClassificationUnclassified,
	ClassificationConfidential,
	ClassificationStrictlyConfidential,
	ClassificationStrictlyConfidentialAbr,
}

// IsValid reports whether the value matches a known sensitivity level.
func (c Classification) IsValid() bool {
	for _, candidate := range validClassifications {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseClassification converts raw input into Classification, defaulting to
// UNCLASSIFIED for empty or unknown values.
func ParseClassification(value string) Classification {
	for _, candidate := range validClassifications {
		if string(candidate) == value {
			return candidate
		}
	}
	return ClassificationUnclassified
}
