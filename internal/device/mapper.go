package device

// MapValue scales fraction (0..1) onto the range from..to. The span is
// signed so from > to inverts the response, and the product is truncated
// toward zero. fraction must already be within [0,1].
func MapValue(from, to uint8, fraction float64) uint8 {
	span := int(to) - int(from)
	return uint8(int(from) + int(float64(span)*fraction))
}

// input is one analog input: its filter and the value last sent for it.
type input struct {
	name   string
	filter Filter
	last   uint8
}

// evaluate maps the filtered fraction through cc and reports whether the
// result has to be sent. last is updated only when it does.
func (in *input) evaluate(cc ControllerConfig, invert, force bool) (uint8, bool) {
	fraction := in.filter.Value()
	if invert {
		fraction = 1 - fraction
	}
	value := MapValue(cc.From, cc.To, fraction)
	if value == in.last && !force {
		return value, false
	}
	in.last = value
	return value, true
}
