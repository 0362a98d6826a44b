package sensor

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	normalMinMilliC  = 20000
	normalSpanMilliC = 15000

	noiseSpikeMilliC = 5000
	noiseSpikeOneIn  = 4

	rampStepMilliC = 500
	rampSteps      = normalSpanMilliC / rampStepMilliC
)

// Generator produces the next temperature in millidegrees Celsius for the
// given mode and tick sequence number. It is called from the producer only
// and must not block.
type Generator interface {
	Next(mode Mode, seq uint64) (int32, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(mode Mode, seq uint64) (int32, error)

func (f GeneratorFunc) Next(mode Mode, seq uint64) (int32, error) {
	return f(mode, seq)
}

// RandomGenerator is the default Generator.
//
// normal: uniform 20.000..35.000 C
// noisy:  normal, with a +/-5.000 C spike on roughly one tick in four
// ramp:   triangle wave 20.000 -> 35.000 -> 20.000 C in 500 mC steps
type RandomGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomGenerator returns a generator seeded from the wall clock.
func NewRandomGenerator() *RandomGenerator {
	seed := uint64(time.Now().UnixNano())
	return NewSeededGenerator(seed, seed>>1)
}

// NewSeededGenerator returns a deterministic generator.
func NewSeededGenerator(seed1, seed2 uint64) *RandomGenerator {
	return &RandomGenerator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (g *RandomGenerator) Next(mode Mode, seq uint64) (int32, error) {
	switch mode {
	case ModeNormal:
		return g.normal(), nil
	case ModeNoisy:
		temp := g.normal()
		if g.intN(noiseSpikeOneIn) == 0 {
			temp += int32(g.intN(2*noiseSpikeMilliC+1) - noiseSpikeMilliC)
		}
		return temp, nil
	case ModeRamp:
		return rampAt(seq), nil
	default:
		return 0, ErrInvalidArgument
	}
}

func (g *RandomGenerator) normal() int32 {
	return int32(normalMinMilliC + g.intN(normalSpanMilliC+1))
}

func (g *RandomGenerator) intN(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.rng.IntN(n)
}

func rampAt(seq uint64) int32 {
	pos := int(seq % (2 * rampSteps))
	if pos > rampSteps {
		pos = 2*rampSteps - pos
	}

	return int32(normalMinMilliC + pos*rampStepMilliC)
}
