// Package bytesize provides a byte quantity configuration value.
package bytesize

import (
	"fmt"
	"math"
	"math/big"

	"github.com/dustin/go-humanize"
)

// Size is an arbitrary-precision byte quantity such as "100MiB", "1.5GB" or
// "4096". Units from B up to PB/PiB (and beyond) are accepted, decimal and
// binary. It implements flag.Value and yaml.Unmarshaler.
type Size struct {
	n *big.Int
}

// MustParse parses s and panics on error. Meant for defaults.
func MustParse(s string) Size {
	var sz Size
	if err := sz.Set(s); err != nil {
		panic(err)
	}
	return sz
}

// Set implements flag.Value.
func (s *Size) Set(v string) error {
	n, err := humanize.ParseBigBytes(v)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", v, err)
	}
	s.n = n
	return nil
}

// String implements flag.Value.
func (s Size) String() string {
	if s.n == nil {
		return "0 B"
	}
	return humanize.BigIBytes(s.n)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v string
	if err := unmarshal(&v); err != nil {
		return err
	}
	return s.Set(v)
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Big returns a copy of the quantity.
func (s Size) Big() *big.Int {
	if s.n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.n)
}

// Bytes returns the quantity as an int64, failing if it does not fit.
func (s Size) Bytes() (int64, error) {
	n := s.Big()
	if !n.IsInt64() || n.Sign() < 0 {
		return 0, fmt.Errorf("byte size %s out of range [0, %d]", n, int64(math.MaxInt64))
	}
	return n.Int64(), nil
}
