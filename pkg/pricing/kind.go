package pricing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChargeKind selects the calculator used for a price
type ChargeKind string

const (
	ChargeOneTime   ChargeKind = "one_time"
	ChargeGraduated ChargeKind = "graduated"
	ChargeVolume    ChargeKind = "volume"
	ChargePackage   ChargeKind = "package"
)

// ParseChargeKind maps a persisted charge type tag to a ChargeKind
func ParseChargeKind(s string) (ChargeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one_time", "onetime", "flat":
		return ChargeOneTime, nil
	case "graduated", "tiered", "slab":
		return ChargeGraduated, nil
	case "volume":
		return ChargeVolume, nil
	case "package":
		return ChargePackage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChargeKind, s)
	}
}

// UnmarshalJSON accepts any tag understood by ParseChargeKind
func (k *ChargeKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseChargeKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
