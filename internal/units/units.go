// Package units converts token amounts between human-scale denominations and base units.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is a named denomination expressed as a power of ten of the base unit.
type Unit struct {
	Name     string
	Exponent int32
}

var (
	Wei   = Unit{Name: "wei", Exponent: 0}
	Gwei  = Unit{Name: "gwei", Exponent: 9}
	Ether = Unit{Name: "ether", Exponent: 18}
)

var knownUnits = []Unit{Ether, Gwei, Wei}

var (
	ErrUnknownUnit   = errors.New("units: unknown unit")
	ErrFractionalWei = errors.New("units: amount is not a whole number of base units")
	ErrInvalidAmount = errors.New("units: invalid amount")
	ErrOutOfRange    = errors.New("units: amount does not fit in uint256")
)

// maxBits is the width of an EVM word; larger values wrap when ABI-encoded.
const maxBits = 256

// ParseUnit resolves a unit name such as "ether" or "gwei".
func ParseUnit(name string) (Unit, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, u := range knownUnits {
		if u.Name == name {
			return u, nil
		}
	}
	return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
}

// ToBaseUnits converts a human-scale amount into base units.
// The conversion is exact; amounts that would need fractional base units or more
// than 256 bits are rejected.
func ToBaseUnits(amount decimal.Decimal, unit Unit) (*big.Int, error) {
	scaled := amount.Shift(unit.Exponent)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %s %s", ErrFractionalWei, amount.String(), unit.Name)
	}
	v := scaled.BigInt()
	if v.BitLen() > maxBits {
		return nil, fmt.Errorf("%w: %s %s", ErrOutOfRange, amount.String(), unit.Name)
	}
	return v, nil
}

// MustToBaseUnits is ToBaseUnits for amounts known to be representable.
func MustToBaseUnits(amount decimal.Decimal, unit Unit) *big.Int {
	v, err := ToBaseUnits(amount, unit)
	if err != nil {
		panic(err)
	}
	return v
}

// FromBaseUnits converts base units back into the given denomination.
func FromBaseUnits(v *big.Int, unit Unit) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -unit.Exponent)
}

// ParseAmount parses strings like "1000", "1ether", "0.5 gwei" or "21000wei".
// A bare number is interpreted in defaultUnit.
func ParseAmount(s string, defaultUnit Unit) (decimal.Decimal, Unit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, Unit{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	unit := defaultUnit
	for _, u := range knownUnits {
		if strings.HasSuffix(s, u.Name) {
			unit = u
			s = strings.TrimSpace(strings.TrimSuffix(s, u.Name))
			break
		}
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, Unit{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return amount, unit, nil
}

// ParseBaseUnits parses an amount string and converts it straight to base units.
func ParseBaseUnits(s string, defaultUnit Unit) (*big.Int, error) {
	amount, unit, err := ParseAmount(s, defaultUnit)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(amount, unit)
}
