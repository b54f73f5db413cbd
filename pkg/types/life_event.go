package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bamelis/regrelay/pkg/enums"
)

const actorIDLength = 13

// LifeEvent is the typed projection of one upstream registry message, as
// produced by the external deserializer. Exactly one category payload is
// populated, matching Category.
type LifeEvent struct {
	EventID            string               `json:"eventId"`
	Category           enums.EventCategory  `json:"category"`
	ChangeKind         enums.ChangeKind     `json:"changeKind"`
	SubjectIdentifiers []string             `json:"subjectIdentifiers"`
	PreviousEventID    string               `json:"previousEventId,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	SourceOffset       int64                `json:"sourceOffset"`
	MasterSource       string               `json:"masterSource"`
	Classification     enums.Classification `json:"classification,omitempty"`

	DeathDate     *Date          `json:"deathDate,omitempty"`
	Birth         *Birth         `json:"birth,omitempty"`
	MoveDate      *Date          `json:"moveDate,omitempty"`
	NationalID    *NationalID    `json:"nationalId,omitempty"`
	Name          *Name          `json:"name,omitempty"`
	Immigration   *Immigration   `json:"immigration,omitempty"`
	Emigration    *Emigration    `json:"emigration,omitempty"`
	MaritalStatus *MaritalStatus `json:"maritalStatus,omitempty"`
	Guardianship  *Guardianship  `json:"guardianship,omitempty"`
}

// Birth carries the BIRTH payload.
type Birth struct {
	Date    *Date  `json:"date,omitempty"`
	Country string `json:"country,omitempty"`
}

// NationalID carries the NATIONAL_ID payload.
type NationalID struct {
	IdentifierType string `json:"identifierType,omitempty"`
	Number         string `json:"number,omitempty"`
}

// Name carries the NAME payload.
type Name struct {
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last,omitempty"`
}

// Immigration carries the IMMIGRATION payload.
type Immigration struct {
	FromCountry string `json:"fromCountry,omitempty"`
}

// Emigration carries the EMIGRATION payload.
type Emigration struct {
	ToCountry string `json:"toCountry,omitempty"`
}

// MaritalStatus carries the MARITAL_STATUS payload.
type MaritalStatus struct {
	Status string `json:"status,omitempty"`
	Date   *Date  `json:"date,omitempty"`
}

// Guardianship carries the GUARDIANSHIP payload.
type Guardianship struct {
	Type  string `json:"type,omitempty"`
	Scope string `json:"scope,omitempty"`
}

// CurrentActorID returns the stable subject key: the first identifier of the
// 13-character actor-id class. Empty when the event carries none.
func (e LifeEvent) CurrentActorID() string {
	for _, ident := range e.SubjectIdentifiers {
		if len(ident) == actorIDLength {
			return ident
		}
	}
	return ""
}

// ToJSON serializes the event the way it is archived and relayed downstream.
func (e LifeEvent) ToJSON() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal life event %s: %w", e.EventID, err)
	}
	return string(raw), nil
}

// AccountChangeNotification is the typed projection of one account-registry
// message: the account holder whose bank details changed.
type AccountChangeNotification struct {
	AccountHolderID string `json:"accountHolderId"`
}
