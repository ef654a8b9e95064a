package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ContextKind discriminates the two ledger partitions a trade may target.
type ContextKind string

const (
	ContextPersonal ContextKind = "personal"
	ContextLeague   ContextKind = "league"
)

// PersonalContextID is the context identifier of every personal account.
const PersonalContextID = "personal"

// ContextRef names the ledger partition a trade targets: either the
// user's personal account or one specific league membership. The JSON
// wire form is "personal" or {"league": "<id>"}.
type ContextRef struct {
	Kind     ContextKind
	LeagueID string
}

// Personal returns the personal context reference.
func Personal() ContextRef {
	return ContextRef{Kind: ContextPersonal}
}

// LeagueRef returns a reference to one league's context.
func LeagueRef(leagueID string) ContextRef {
	return ContextRef{Kind: ContextLeague, LeagueID: leagueID}
}

// ID returns the stable context identifier used to partition accounts:
// "personal" or "league:<id>".
func (c ContextRef) ID() string {
	if c.Kind == ContextLeague {
		return "league:" + c.LeagueID
	}
	return PersonalContextID
}

// Validate checks the reference is well formed.
func (c ContextRef) Validate() error {
	switch c.Kind {
	case ContextPersonal:
		return nil
	case ContextLeague:
		if strings.TrimSpace(c.LeagueID) == "" {
			return errors.New("league context requires a league id")
		}
		return nil
	default:
		return fmt.Errorf("unknown context kind %q", c.Kind)
	}
}

// ParseContextID is the inverse of ID.
func ParseContextID(s string) (ContextRef, error) {
	if s == PersonalContextID {
		return Personal(), nil
	}
	if id, ok := strings.CutPrefix(s, "league:"); ok && id != "" {
		return LeagueRef(id), nil
	}
	return ContextRef{}, fmt.Errorf("invalid context id %q", s)
}

// MarshalJSON renders "personal" or {"league": "<id>"}.
func (c ContextRef) MarshalJSON() ([]byte, error) {
	if c.Kind == ContextLeague {
		return json.Marshal(map[string]string{"league": c.LeagueID})
	}
	return json.Marshal(string(ContextPersonal))
}

// UnmarshalJSON accepts the string "personal" or an object {"league": id}.
func (c *ContextRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != string(ContextPersonal) {
			return fmt.Errorf("invalid context %q", s)
		}
		*c = Personal()
		return nil
	}
	var obj struct {
		League string `json:"league"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid context: %w", err)
	}
	if obj.League == "" {
		return errors.New("league context requires a league id")
	}
	*c = LeagueRef(obj.League)
	return nil
}

var symbolRE = regexp.MustCompile(`^[A-Z0-9.]{1,10}$`)

// NormalizeSymbol trims and uppercases a ticker symbol, returning an
// error if the result is not a valid symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRE.MatchString(s) {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	return s, nil
}
