package r4

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// DecimalContext is the arithmetic context used for quantity calculations.
var DecimalContext = apd.BaseContext.WithPrecision(34)

// Decimal is a FHIR decimal. It keeps the exact textual value so that
// quantities survive a decode/encode cycle without float rounding.
type Decimal struct {
	apd.Decimal
}

// NewDecimal returns the decimal coeff * 10^exp.
func NewDecimal(coeff int64, exp int32) *Decimal {
	d := &Decimal{}
	d.SetFinite(coeff, exp)
	return d
}

// ParseDecimal parses a FHIR decimal literal.
func ParseDecimal(s string) (*Decimal, error) {
	d := &Decimal{}
	if err := d.set(s); err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// set parses s, accepting finite values only. FHIR decimals have no NaN
// or infinity and those forms cannot be written back as JSON numbers.
func (d *Decimal) set(s string) error {
	if _, _, err := d.SetString(s); err != nil {
		return err
	}
	if d.Form != apd.Finite {
		d.SetFinite(0, 0)
		return fmt.Errorf("%s is not a finite number", s)
	}
	return nil
}

// MarshalJSON writes the decimal as a JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.Text('f')), nil
}

// UnmarshalJSON accepts a JSON number or a quoted number.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if err := d.set(s); err != nil {
		return fmt.Errorf("invalid decimal %s: %w", b, err)
	}
	return nil
}

// String returns the plain (non-exponent) form.
func (d *Decimal) String() string {
	if d == nil {
		return "0"
	}
	return d.Text('f')
}

// Cmp compares d and x. A nil decimal compares as zero.
func (d *Decimal) Cmp(x *Decimal) int {
	return d.apd().Cmp(x.apd())
}

// IsPositive reports whether d > 0.
func (d *Decimal) IsPositive() bool {
	return d.Cmp(nil) > 0
}

// Add returns d + x.
func (d *Decimal) Add(x *Decimal) (*Decimal, error) {
	res := &Decimal{}
	if _, err := DecimalContext.Add(&res.Decimal, d.apd(), x.apd()); err != nil {
		return nil, fmt.Errorf("add %s + %s: %w", d, x, err)
	}
	return res, nil
}

// Sub returns d - x.
func (d *Decimal) Sub(x *Decimal) (*Decimal, error) {
	res := &Decimal{}
	if _, err := DecimalContext.Sub(&res.Decimal, d.apd(), x.apd()); err != nil {
		return nil, fmt.Errorf("subtract %s - %s: %w", d, x, err)
	}
	return res, nil
}

func (d *Decimal) apd() *apd.Decimal {
	if d == nil {
		return apd.New(0, 0)
	}
	return &d.Decimal
}
