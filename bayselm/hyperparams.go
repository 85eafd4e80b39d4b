package bayselm

import "fmt"

// Default values used when a depth is first touched.
const (
	DefaultD        = 0.5 // discount
	DefaultTheta    = 2.0 // concentration
	DefaultBetaA    = 1.0 // Beta prior for discount
	DefaultBetaB    = 1.0
	DefaultGammaA   = 1.0 // Gamma prior (shape, rate) for concentration
	DefaultGammaB   = 1.0
	DefaultBetaStop = 4.0
	DefaultBetaPass = 1.0
)

// hyperParams holds the per-depth Pitman-Yor parameters and their priors.
// Every vector grows only through ensureDepth.
type hyperParams struct {
	d      []float64 // discount
	theta  []float64 // concentration
	betaA  []float64 // a_m, Beta prior of d
	betaB  []float64 // b_m, Beta prior of d
	gammaA []float64 // alpha_m, Gamma shape prior of theta
	gammaB []float64 // beta_m, Gamma rate prior of theta

	initialD      float64
	initialTheta  float64
	initialBetaA  float64
	initialBetaB  float64
	initialGammaA float64
	initialGammaB float64
}

func newHyperParams(initialTheta float64, initialD float64, gammaA float64, gammaB float64, betaA float64, betaB float64) *hyperParams {
	if initialD < 0.0 || initialD >= 1.0 {
		panic("range of initialD is 0.0 to 1.0 (exclusive)")
	}
	if initialTheta < 0.0 {
		panic("range of initialTheta is 0.0 to inf")
	}
	if gammaA <= 0.0 || gammaB <= 0.0 || betaA <= 0.0 || betaB <= 0.0 {
		panic("hyper-parameters of prior distributions must be positive")
	}
	hp := &hyperParams{
		initialD:      initialD,
		initialTheta:  initialTheta,
		initialBetaA:  betaA,
		initialBetaB:  betaB,
		initialGammaA: gammaA,
		initialGammaB: gammaB,
	}
	hp.ensureDepth(0)
	return hp
}

// ensureDepth extends every vector so that index depth is valid.
func (hp *hyperParams) ensureDepth(depth int) {
	if depth < 0 {
		errMsg := fmt.Sprintf("ensureDepth error. depth (%v) is negative", depth)
		panic(errMsg)
	}
	hp.d = extend(hp.d, depth, hp.initialD)
	hp.theta = extend(hp.theta, depth, hp.initialTheta)
	hp.betaA = extend(hp.betaA, depth, hp.initialBetaA)
	hp.betaB = extend(hp.betaB, depth, hp.initialBetaB)
	hp.gammaA = extend(hp.gammaA, depth, hp.initialGammaA)
	hp.gammaB = extend(hp.gammaB, depth, hp.initialGammaB)
}

func extend(v []float64, depth int, initial float64) []float64 {
	for len(v) <= depth {
		v = append(v, initial)
	}
	return v
}

// discount and concentration never grow the vectors, so read-only scoring
// stays free of writes.
func (hp *hyperParams) discount(depth int) float64 {
	if depth < len(hp.d) {
		return hp.d[depth]
	}
	return hp.initialD
}

func (hp *hyperParams) concentration(depth int) float64 {
	if depth < len(hp.theta) {
		return hp.theta[depth]
	}
	return hp.initialTheta
}
