package repeater

// Count stops after a predetermined number of samples, regardless of
// their values. It is the right rule when the repetition budget is
// known up front, and the degenerate base every adaptive rule falls
// back to at its max.
type Count struct {
	Max int `mapstructure:"max"`
}

// NewCount builds a Count from repeater options.
func NewCount(opts map[string]interface{}) (*Count, error) {
	r := &Count{Max: 1}
	if err := decodeOptions(opts, "CR", r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Count) Name() string { return "count" }

func (r *Count) Decide(samples []float64, _ int) Decision {
	if len(samples) >= r.Max {
		return Stop
	}
	return Continue
}
