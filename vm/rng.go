package vm

import "math/rand"

// MathRandRNG adapts math/rand to the RNG interface. It is the default
// source used by the standalone runner and control server; tests can
// substitute a deterministic RNG to pin placement.
type MathRandRNG struct {
	r *rand.Rand
}

// NewMathRandRNG seeds a new math/rand-backed RNG.
func NewMathRandRNG(seed int64) *MathRandRNG {
	return &MathRandRNG{r: rand.New(rand.NewSource(seed))}
}

func (m *MathRandRNG) Intn(n int) int { return m.r.Intn(n) }
