package signal

import "time"

type step struct {
	on bool
	d  time.Duration
}

type pattern struct {
	steps  []step
	repeat bool
}

func blink(on, off time.Duration, times int) []step {
	var s []step
	for i := 0; i < times; i++ {
		s = append(s, step{true, on}, step{false, off})
	}
	return s
}

// Morse timing for the SOS pattern.
const (
	morseDot  = 150 * time.Millisecond
	morseDash = 3 * morseDot
	morseGap  = 700 * time.Millisecond
)

func sos() []step {
	var s []step
	s = append(s, blink(morseDot, morseDot, 3)...)
	s = append(s, blink(morseDash, morseDot, 3)...)
	s = append(s, blink(morseDot, morseDot, 3)...)
	s = append(s, step{false, morseGap})
	return s
}

var patterns = map[Event]pattern{
	CopyStart:   {steps: blink(100*time.Millisecond, 100*time.Millisecond, 1), repeat: true},
	VerifyStart: {steps: blink(250*time.Millisecond, 250*time.Millisecond, 1), repeat: true},
	EraseStart:  {steps: blink(800*time.Millisecond, 200*time.Millisecond, 1), repeat: true},
	Success: {steps: append(
		blink(80*time.Millisecond, 80*time.Millisecond, 3),
		step{true, 2 * time.Second}, step{false, 0},
	)},
	Empty: {steps: blink(400*time.Millisecond, 400*time.Millisecond, 2)},
	Error: {steps: sos(), repeat: true},
}

// CycleDuration is the wall time of one full cycle of e's pattern. The main
// command holds the process open this long after a terminal event so the
// operator sees the outcome.
func CycleDuration(e Event) time.Duration {
	var total time.Duration
	for _, s := range patterns[e].steps {
		total += s.d
	}
	return total
}
