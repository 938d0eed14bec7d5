package models

import "strings"

// IdentifierType names the kind of identifier a caller supplied.
type IdentifierType string

const (
	IdentifierAuto   IdentifierType = ""
	IdentifierCIK    IdentifierType = "cik"
	IdentifierLEI    IdentifierType = "lei"
	IdentifierCUSIP  IdentifierType = "cusip"
	IdentifierTicker IdentifierType = "ticker"
	IdentifierName   IdentifierType = "name"
)

// ParseIdentifierType maps a user-supplied hint ("CIK", "lei", ...) to an
// IdentifierType. Unknown or empty hints map to IdentifierAuto.
func ParseIdentifierType(s string) IdentifierType {
	switch IdentifierType(strings.ToLower(strings.TrimSpace(s))) {
	case IdentifierCIK:
		return IdentifierCIK
	case IdentifierLEI:
		return IdentifierLEI
	case IdentifierCUSIP:
		return IdentifierCUSIP
	case IdentifierTicker:
		return IdentifierTicker
	case IdentifierName:
		return IdentifierName
	default:
		return IdentifierAuto
	}
}

// Identifier is a single typed identifier value.
type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

// Identifiers holds every known identifier of an entity, grouped by type.
// An entity may carry zero or more values of each type.
type Identifiers struct {
	CIK    []string `json:"cik,omitempty"`
	LEI    []string `json:"lei,omitempty"`
	CUSIP  []string `json:"cusip,omitempty"`
	Ticker []string `json:"ticker,omitempty"`
}

// Add appends value under t unless already present. It reports whether the
// set grew. Name identifiers are not stored here (see Entity.Name).
func (ids *Identifiers) Add(t IdentifierType, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	var list *[]string
	switch t {
	case IdentifierCIK:
		list = &ids.CIK
	case IdentifierLEI:
		list = &ids.LEI
	case IdentifierCUSIP:
		list = &ids.CUSIP
	case IdentifierTicker:
		list = &ids.Ticker
	default:
		return false
	}
	for _, v := range *list {
		if v == value {
			return false
		}
	}
	*list = append(*list, value)
	return true
}

// All flattens the identifier sets in a stable order (CIK, LEI, CUSIP, ticker).
func (ids Identifiers) All() []Identifier {
	out := make([]Identifier, 0, len(ids.CIK)+len(ids.LEI)+len(ids.CUSIP)+len(ids.Ticker))
	for _, v := range ids.CIK {
		out = append(out, Identifier{Type: IdentifierCIK, Value: v})
	}
	for _, v := range ids.LEI {
		out = append(out, Identifier{Type: IdentifierLEI, Value: v})
	}
	for _, v := range ids.CUSIP {
		out = append(out, Identifier{Type: IdentifierCUSIP, Value: v})
	}
	for _, v := range ids.Ticker {
		out = append(out, Identifier{Type: IdentifierTicker, Value: v})
	}
	return out
}

// Values returns the raw identifier strings, used as query keys against
// source tables that do not distinguish identifier types.
func (ids Identifiers) Values() []string {
	all := ids.All()
	out := make([]string, len(all))
	for i, id := range all {
		out[i] = id.Value
	}
	return out
}

// Entity is a legal or economic actor. Key is canonical and never changes
// once assigned.
type Entity struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Identifiers Identifiers `json:"identifiers"`
}

// Ref returns the lightweight reference used on exposures and triggers.
func (e Entity) Ref() EntityRef {
	return EntityRef{Key: e.Key, Name: e.Name}
}

// EntityRef points at an entity by canonical key.
type EntityRef struct {
	Key  string `json:"key"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether the reference is empty.
func (r EntityRef) IsZero() bool {
	return r.Key == ""
}
