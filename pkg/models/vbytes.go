package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// microScale is the fixed-point denominator for VBytes and FeeRate.
// Virtual sizes and fee rates arrive as decimal strings ("68", "1.5");
// storing them as integer micro-units keeps the two ceiling steps of the
// fee computation exact, with no binary-float drift.
const microScale = 1_000_000

// VBytes is a virtual size expressed in micro-vbytes (1e-6 vB).
type VBytes int64

// FeeRate is a fee rate expressed in micro-satoshis per vbyte.
type FeeRate int64

// ParseVBytes parses a decimal string ("68", "67.35") into an exact
// micro-vbyte count. At most six fractional digits are representable;
// anything beyond that is rejected rather than silently truncated.
func ParseVBytes(s string) (VBytes, error) {
	v, err := parseMicro(s)
	if err != nil {
		return 0, fmt.Errorf("invalid vbytes %q: %w", s, err)
	}
	return VBytes(v), nil
}

// ParseFeeRate parses a decimal string into an exact micro-sat/vB rate.
func ParseFeeRate(s string) (FeeRate, error) {
	v, err := parseMicro(s)
	if err != nil {
		return 0, fmt.Errorf("invalid fee rate %q: %w", s, err)
	}
	return FeeRate(v), nil
}

// VBytesFromFloat converts a float vbyte count (as delivered over an RPC
// boundary) to micro-vbytes, rounding half away from zero at the sixth
// decimal place.
func VBytesFromFloat(f float64) VBytes {
	return VBytes(math.Round(f * microScale))
}

// FeeRateFromFloat converts a float sat/vB rate to micro-sat/vB.
func FeeRateFromFloat(f float64) FeeRate {
	return FeeRate(math.Round(f * microScale))
}

// Ceil returns the vbyte count rounded up to the next whole vbyte.
func (v VBytes) Ceil() int64 {
	return ceilDiv(int64(v), microScale)
}

// Float returns the size in vbytes as a float64, for display only.
func (v VBytes) Float() float64 {
	return float64(v) / microScale
}

func (v VBytes) String() string {
	return formatMicro(int64(v))
}

// FeeFor returns ceil(rate * txVbytes) in whole satoshis for an
// already-ceiled integer vbyte count.
func (r FeeRate) FeeFor(txVbytes int64) int64 {
	return ceilDiv(int64(r)*txVbytes, microScale)
}

// Float returns the rate in sat/vB as a float64, for display only.
func (r FeeRate) Float() float64 {
	return float64(r) / microScale
}

func (r FeeRate) String() string {
	return formatMicro(int64(r))
}

// JSON form is the canonical decimal string ("68", "1.5"); plain JSON
// numbers are accepted on input and rounded at micro precision, matching
// the float-typed RPC boundary.

func (v VBytes) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(v.String())), nil
}

func (v *VBytes) UnmarshalJSON(b []byte) error {
	micro, err := unmarshalMicro(b)
	if err != nil {
		return err
	}
	*v = VBytes(micro)
	return nil
}

func (r FeeRate) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(r.String())), nil
}

func (r *FeeRate) UnmarshalJSON(b []byte) error {
	micro, err := unmarshalMicro(b)
	if err != nil {
		return err
	}
	*r = FeeRate(micro)
	return nil
}

func unmarshalMicro(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("empty decimal")
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return 0, err
		}
		return parseMicro(s)
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("negative decimal %s", b)
	}
	return int64(math.Round(f * microScale)), nil
}

// ceilDiv computes ceil(a/b) for a >= 0, b > 0.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// parseMicro parses a non-negative decimal string into micro-units.
func parseMicro(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	intPart := s
	fracPart := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, fracPart = s[:dot], s[dot+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("no digits")
	}
	if len(fracPart) > 6 {
		return 0, fmt.Errorf("more than 6 fractional digits")
	}

	var total int64
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("unexpected character %q", c)
		}
		digit := int64(c - '0')
		if total > (math.MaxInt64-digit)/10 {
			return 0, fmt.Errorf("value out of range")
		}
		total = total*10 + digit
	}
	if total > math.MaxInt64/microScale {
		return 0, fmt.Errorf("value out of range")
	}
	total *= microScale

	scale := int64(microScale / 10)
	for _, c := range fracPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("unexpected character %q", c)
		}
		total += int64(c-'0') * scale
		scale /= 10
	}
	return total, nil
}

// formatMicro renders micro-units back as a minimal decimal string.
func formatMicro(v int64) string {
	whole := v / microScale
	frac := v % microScale
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%06d", whole, frac)
	return strings.TrimRight(s, "0")
}
