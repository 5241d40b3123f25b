// Package verdict has the tri-state outcome shared by the DKIM, SPF and
// DMARC checks: a full pass, a pass with non-ideal configuration, or a fail.
package verdict

import (
	"bytes"
	"fmt"
)

// Verdict is the outcome of a single configuration check.
type Verdict int

const (
	Fail    Verdict = iota // Configuration is broken or absent.
	Partial                // Works, but with warnings that should be addressed.
	Pass                   // Fully correct.
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Partial:
		return "partial"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("(unknown verdict %d)", int(v))
}

// MarshalJSON encodes Pass as true, Fail as false and Partial as the string
// "partial". Existing consumers of check results depend on this encoding.
func (v Verdict) MarshalJSON() ([]byte, error) {
	switch v {
	case Pass:
		return []byte("true"), nil
	case Partial:
		return []byte(`"partial"`), nil
	case Fail:
		return []byte("false"), nil
	}
	return nil, fmt.Errorf("invalid verdict %d", int(v))
}

// UnmarshalJSON decodes the true/"partial"/false encoding.
func (v *Verdict) UnmarshalJSON(buf []byte) error {
	switch {
	case bytes.Equal(buf, []byte("true")):
		*v = Pass
	case bytes.Equal(buf, []byte(`"partial"`)):
		*v = Partial
	case bytes.Equal(buf, []byte("false")):
		*v = Fail
	default:
		return fmt.Errorf("invalid verdict %q", buf)
	}
	return nil
}
