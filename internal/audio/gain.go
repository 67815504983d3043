package audio

// Ramp is a linear gain automation segment on the mixer clock.
// Before Start the gain is From, after End it is To, and in between it moves
// linearly. A Ramp with End <= Start is a constant gain of To from Start on.
type Ramp struct {
	From, To   float64
	Start, End int64 // sample frames on the mixer clock
}

// Constant returns a ramp that holds gain g forever.
func Constant(g float64) Ramp {
	return Ramp{From: g, To: g}
}

// At returns the gain at clock frame t.
func (r Ramp) At(t int64) float64 {
	switch {
	case r.End <= r.Start:
		if t < r.Start {
			return r.From
		}
		return r.To
	case t <= r.Start:
		return r.From
	case t >= r.End:
		return r.To
	}
	progress := float64(t-r.Start) / float64(r.End-r.Start)
	return r.From + (r.To-r.From)*progress
}

// Retarget starts a new ramp from the current gain at now towards to, ending at end.
// This mirrors setValueAtTime(current, now) followed by linearRampToValueAtTime(to, end).
func (r Ramp) Retarget(now, end int64, to float64) Ramp {
	return Ramp{From: r.At(now), To: to, Start: now, End: end}
}

// clip16 clamps a mixed float sample into int16 range.
func clip16(v float64) int16 {
	if v > 32767 {
		return 32767
	} else if v < -32768 {
		return -32768
	}
	return int16(v)
}

// MixFrames sums float accumulators into an int16 frame with clipping.
func MixFrames(acc []float64) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		out[i] = clip16(v)
	}
	return out
}
