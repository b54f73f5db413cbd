package enums

// AccountChangeStatus maps to the account_change_status enum in Postgres.
type AccountChangeStatus string

const (
	AccountChangeReceived  AccountChangeStatus = "RECEIVED"
	AccountChangePublished AccountChangeStatus = "PUBLISHED"
)

// IsValid reports whether the value matches the canonical enum.
func (s AccountChangeStatus) IsValid() bool {
	return s == AccountChangeReceived || s == AccountChangePublished
}
