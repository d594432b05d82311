package ledger

import (
	"encoding/json"
	"fmt"
)

type endpointKind uint8

const (
	endpointInvalid endpointKind = iota
	endpointAccount
	endpointBank
)

// Endpoint is one side of a Transaction: either a player account or the bank.
// The zero value is invalid.
type Endpoint struct {
	kind endpointKind
	id   string
}

func Bank() Endpoint { return Endpoint{kind: endpointBank} }

func AccountOf(principalID string) Endpoint {
	if principalID == "" {
		return Endpoint{}
	}
	return Endpoint{kind: endpointAccount, id: principalID}
}

// EndpointFromID maps the persisted nullable principal id to an Endpoint.
func EndpointFromID(principalID *string) Endpoint {
	if principalID == nil {
		return Bank()
	}
	return AccountOf(*principalID)
}

func (e Endpoint) IsBank() bool    { return e.kind == endpointBank }
func (e Endpoint) IsAccount() bool { return e.kind == endpointAccount }
func (e Endpoint) Valid() bool     { return e.kind != endpointInvalid }

// PrincipalID returns the account id; ok is false for the bank.
func (e Endpoint) PrincipalID() (string, bool) {
	if e.kind != endpointAccount {
		return "", false
	}
	return e.id, true
}

// IDPtr is the persisted form: nil for the bank.
func (e Endpoint) IDPtr() *string {
	if e.kind != endpointAccount {
		return nil
	}
	id := e.id
	return &id
}

func (e Endpoint) String() string {
	switch e.kind {
	case endpointBank:
		return "bank"
	case endpointAccount:
		return "account:" + e.id
	default:
		return "invalid"
	}
}

type endpointJSON struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	switch e.kind {
	case endpointBank:
		return json.Marshal(endpointJSON{Kind: "bank"})
	case endpointAccount:
		return json.Marshal(endpointJSON{Kind: "account", ID: e.id})
	default:
		return []byte("null"), nil
	}
}

func (e *Endpoint) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = Endpoint{}
		return nil
	}
	var raw endpointJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "bank":
		*e = Bank()
	case "account":
		if raw.ID == "" {
			return fmt.Errorf("endpoint: account without id")
		}
		*e = AccountOf(raw.ID)
	default:
		return fmt.Errorf("endpoint: unknown kind %q", raw.Kind)
	}
	return nil
}
