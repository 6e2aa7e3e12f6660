// Package weights holds the static table mapping interaction kinds to their
// base predictive value.
package weights

import "github.com/sells-group/prefetch/internal/model"

// Default is the weight of any kind missing from the table.
const Default = 0.3

// base reflects how strongly each kind signals intent to use a component.
// Activations and keyboard input are deliberate; passive pointer motion is
// mostly noise.
var base = map[model.InteractionKind]float64{
	model.KindClick:        1.0,
	model.KindKeypress:     0.9,
	model.KindFocus:        0.8,
	model.KindPointerEnter: 0.6,
	model.KindView:         0.5,
	model.KindScroll:       0.4,
	model.KindPassiveMove:  0.2,
}

// For returns the base weight of kind and whether kind is recognized.
func For(kind model.InteractionKind) (float64, bool) {
	w, ok := base[kind]
	if !ok {
		return Default, false
	}
	return w, true
}

// Table returns a copy of the full weighting table.
func Table() map[model.InteractionKind]float64 {
	out := make(map[model.InteractionKind]float64, len(base))
	for k, v := range base {
		out[k] = v
	}
	return out
}
