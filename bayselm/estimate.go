package bayselm

import "math"

// SampleHyperparameters resamples d and theta of every depth present in the
// tree with the auxiliary variable sampler of Teh (2006):
//
//	d_m     ~ Beta(a_m + sum(1 - y_ui), b_m + sum(1 - z_uwkj))
//	theta_m ~ Gamma(alpha_m + sum(y_ui), beta_m - sum(log x_u))
//
// It must not run concurrently with seating changes.
func (vpylm *VPYLM) SampleHyperparameters() {
	maxDepth := vpylm.Depth()
	vpylm.hp.ensureDepth(maxDepth)

	sumLogX := make([]float64, maxDepth+1)
	sumY := make([]float64, maxDepth+1)
	sum1MinusY := make([]float64, maxDepth+1)
	sum1MinusZ := make([]float64, maxDepth+1)
	vpylm.eachNode(func(_ NodeID, node *Node) {
		depth := node.depth
		d := vpylm.hp.d[depth]
		theta := vpylm.hp.theta[depth]
		sumLogX[depth] += node.auxiliaryLogX(theta, vpylm.sampler)
		y, oneMinusY := node.auxiliaryY(d, theta, vpylm.sampler)
		sumY[depth] += y
		sum1MinusY[depth] += oneMinusY
		sum1MinusZ[depth] += node.auxiliary1MinusZ(d, vpylm.sampler)
	})

	for m := 0; m <= maxDepth; m++ {
		d := vpylm.sampler.Beta(vpylm.hp.betaA[m]+sum1MinusY[m], vpylm.hp.betaB[m]+sum1MinusZ[m])
		theta := vpylm.sampler.Gamma(vpylm.hp.gammaA[m]+sumY[m], vpylm.hp.gammaB[m]-sumLogX[m])
		if math.IsNaN(d) || d < 0.0 {
			panic("d estimation error")
		}
		if d >= 1.0 {
			d = math.Nextafter(1.0, 0.0)
		}
		if math.IsNaN(theta) || theta < 0.0 {
			panic("theta estimation error")
		}
		vpylm.hp.d[m] = d
		vpylm.hp.theta[m] = theta
	}
}
