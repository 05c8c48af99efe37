package asset

import (
	"fmt"
	"strings"
)

// Class is the instrument category an asset belongs to. Fallback chains are
// configured per class, never per asset.
type Class string

const (
	ClassStock Class = "stock"
	ClassETF   Class = "etf"
	ClassFund  Class = "fund"
	ClassGold  Class = "gold"
)

// Classes lists every known class in reporting order.
var Classes = []Class{ClassStock, ClassETF, ClassFund, ClassGold}

// ParseClass converts a configuration value into a Class.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ClassStock, ClassETF, ClassFund, ClassGold:
		return c, nil
	}
	return "", fmt.Errorf("unknown asset class %q", s)
}

// Descriptor identifies one tracked instrument for the duration of a run.
type Descriptor struct {
	Code     string
	Name     string
	Class    Class
	Currency string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Code, d.Class)
}
