// Package units holds the native value amount used across linkdrop.
// One whole coin is 10^24 units, so amounts do not fit in uint64.
package units

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("units: balance overflow")
	ErrUnderflow = errors.New("units: balance underflow")
	// ErrExceedsU128 is returned when a value does not fit the 128-bit range
	// accepted for deposits.
	ErrExceedsU128 = errors.New("units: value exceeds 128 bits")
)

// Balance is an unsigned value amount. The zero value is 0.
type Balance struct {
	v uint256.Int
}

func NewBalance(v uint64) Balance {
	var b Balance
	b.v.SetUint64(v)
	return b
}

// ParseBalance parses a base-10 amount such as "1820000000000000000000".
func ParseBalance(s string) (Balance, error) {
	var b Balance
	if s == "" {
		return b, fmt.Errorf("units: empty balance")
	}
	if err := b.v.SetFromDecimal(s); err != nil {
		return Balance{}, fmt.Errorf("units: parse %q: %w", s, err)
	}
	if b.v.BitLen() > 128 {
		return Balance{}, ErrExceedsU128
	}
	return b, nil
}

// MustParseBalance is ParseBalance for constants.
func MustParseBalance(s string) Balance {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Balance) Add(o Balance) (Balance, error) {
	var out Balance
	if _, overflow := out.v.AddOverflow(&b.v, &o.v); overflow || out.v.BitLen() > 128 {
		return Balance{}, ErrOverflow
	}
	return out, nil
}

func (b Balance) Sub(o Balance) (Balance, error) {
	var out Balance
	if _, underflow := out.v.SubOverflow(&b.v, &o.v); underflow {
		return Balance{}, ErrUnderflow
	}
	return out, nil
}

func (b Balance) Cmp(o Balance) int {
	return b.v.Cmp(&o.v)
}

func (b Balance) LessThan(o Balance) bool {
	return b.v.Lt(&o.v)
}

func (b Balance) Equal(o Balance) bool {
	return b.v.Eq(&o.v)
}

func (b Balance) IsZero() bool {
	return b.v.IsZero()
}

func (b Balance) String() string {
	return b.v.Dec()
}

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Balance) Value() (driver.Value, error) {
	return b.String(), nil
}

func (b *Balance) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = Balance{}
		return nil
	case string:
		return b.scanString(v)
	case []byte:
		return b.scanString(string(v))
	case int64:
		if v < 0 {
			return ErrUnderflow
		}
		*b = NewBalance(uint64(v))
		return nil
	default:
		return fmt.Errorf("units: cannot scan %T into Balance", src)
	}
}

func (b *Balance) scanString(s string) error {
	if s == "" {
		*b = Balance{}
		return nil
	}
	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// GormDataType stores balances as decimal text.
func (Balance) GormDataType() string {
	return "varchar(40)"
}
