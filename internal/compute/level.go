package compute

// Level names, lowest first.
const (
	L0 = "L0"
	L1 = "L1"
	L2 = "L2"
	L3 = "L3"
	L4 = "L4"
)

// LevelFunc maps a percent in [0, 100] to a tier name. It must be pure.
type LevelFunc func(percent float64) string

// PercentToLevel is the canonical tier mapping. Each tier spans a quarter of
// the window; L4 is reached only at a full window.
func PercentToLevel(percent float64) string {
	switch {
	case percent >= 100:
		return L4
	case percent >= 75:
		return L3
	case percent >= 50:
		return L2
	case percent >= 25:
		return L1
	default:
		return L0
	}
}
