package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Subaccount is the 32 byte discriminator that lets one owner hold several balances
type Subaccount [32]byte

// SubaccountFromID encodes id big-endian into the last 8 bytes
func SubaccountFromID(id uint64) Subaccount {
	var sub Subaccount
	binary.BigEndian.PutUint64(sub[24:], id)
	return sub
}

// IsZero reports whether the subaccount is the default one
func (s Subaccount) IsZero() bool {
	return s == Subaccount{}
}

func (s Subaccount) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

func (s *Subaccount) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid subaccount: %w", err)
	}
	if len(raw) != len(s) {
		return fmt.Errorf("invalid subaccount length %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}

// Account identifies a balance on the ledger
type Account struct {
	Owner      string      `json:"owner"`
	Subaccount *Subaccount `json:"subaccount,omitempty"`
}

// NewAccount returns the default account of owner
func NewAccount(owner string) Account {
	return Account{Owner: owner}
}

// WithSubaccount returns the account of owner at sub
func WithSubaccount(owner string, sub Subaccount) Account {
	return Account{Owner: owner, Subaccount: &sub}
}

// String renders the account as owner or owner.hex(subaccount)
func (a Account) String() string {
	if a.Subaccount == nil || a.Subaccount.IsZero() {
		return a.Owner
	}
	return a.Owner + "." + hex.EncodeToString(a.Subaccount[:])
}

// Equal compares accounts treating a nil subaccount as the zero one
func (a Account) Equal(other Account) bool {
	return a.String() == other.String()
}

// ParseAccount is the inverse of Account.String
func ParseAccount(s string) (Account, error) {
	if s == "" {
		return Account{}, fmt.Errorf("empty account")
	}
	owner, sub, found := strings.Cut(s, ".")
	if !found {
		return NewAccount(owner), nil
	}
	var subaccount Subaccount
	if err := subaccount.UnmarshalText([]byte(sub)); err != nil {
		return Account{}, err
	}
	return WithSubaccount(owner, subaccount), nil
}
