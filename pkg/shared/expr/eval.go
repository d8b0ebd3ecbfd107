package expr

import (
	"fmt"
	"math"
)

func getFuncMap(value float64, unit string) map[string]interface{} {
	return map[string]interface{}{
		valueVar: value,
		unitVar:  unit,
		"abs":    math.Abs,
		"round":  _round,
		"log":    math.Log,
		"pow":    math.Pow,
	}
}

func _round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

func toFloat(v interface{}) (float64, error) {
	switch w := v.(type) {
	case float64:
		return w, nil
	case float32:
		return float64(w), nil
	case int:
		return float64(w), nil
	case int64:
		return float64(w), nil
	default:
		return 0, fmt.Errorf("unable to cast expression result '%v' to float", v)
	}
}
