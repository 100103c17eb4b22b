package primitives

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Amount is an immutable value in wei.
type Amount struct {
	wei *big.Int
}

// NewAmount copies wei. A nil value is zero.
func NewAmount(wei *big.Int) (Amount, error) {
	if wei == nil {
		return Amount{}, nil
	}
	if wei.Sign() < 0 {
		return Amount{}, errors.Wrapf(ErrBadAmount, "%s", wei)
	}
	return Amount{wei: new(big.Int).Set(wei)}, nil
}

// ParseAmount reads a decimal or 0x-prefixed hex wei value. The empty string and "0x" are zero.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0x" {
		return Amount{}, nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return Amount{}, errors.Wrapf(ErrBadAmount, "%q", s)
	}
	return NewAmount(v)
}

// Wei returns a copy of the value.
func (a Amount) Wei() *big.Int {
	if a.wei == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.wei)
}

// IsZero reports whether the amount is zero wei.
func (a Amount) IsZero() bool {
	return a.wei == nil || a.wei.Sign() == 0
}

func (a Amount) String() string {
	if a.wei == nil {
		return "0"
	}
	return a.wei.String()
}
