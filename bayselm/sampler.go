package bayselm

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler is the random source shared by every stochastic choice of one model.
// It is not safe for concurrent use.
type Sampler struct {
	src *rand.PCG
	rng *rand.Rand
}

// NewSampler returns Sampler instance seeded with seed.
func NewSampler(seed uint64) *Sampler {
	sampler := new(Sampler)
	sampler.src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	sampler.rng = rand.New(sampler.src)
	return sampler
}

// Seed resets the generator state.
func (sampler *Sampler) Seed(seed uint64) {
	sampler.src.Seed(seed, seed^0x9e3779b97f4a7c15)
}

// Uniform returns a draw from [0, 1).
func (sampler *Sampler) Uniform() float64 {
	return sampler.rng.Float64()
}

// Beta returns a draw from Beta(a, b).
func (sampler *Sampler) Beta(a float64, b float64) float64 {
	betaDist := distuv.Beta{Alpha: a, Beta: b, Src: sampler.src}
	return betaDist.Rand()
}

// Gamma returns a draw from Gamma(shape, rate).
func (sampler *Sampler) Gamma(shape float64, rate float64) float64 {
	gammaDist := distuv.Gamma{Alpha: shape, Beta: rate, Src: sampler.src}
	return gammaDist.Rand()
}

// Bernoulli returns 1 with probability p, otherwise 0.
func (sampler *Sampler) Bernoulli(p float64) float64 {
	bernoulliDist := distuv.Bernoulli{P: p, Src: sampler.src}
	return bernoulliDist.Rand()
}

// Perm returns a random permutation of [0, n).
func (sampler *Sampler) Perm(n int) []int {
	return sampler.rng.Perm(n)
}
