package bayselm

import (
	"math"
	"sync"
)

// NgramLM is a language model over id sequences that can be scored without
// mutation.
type NgramLM interface {
	ProbabilityGivenContext(word ID, context []ID) float64
	Log2Probability(seq []ID) float64
	LogProbability(seq []ID) float64
}

var _ NgramLM = (*VPYLM)(nil)

func scoreSequences(seqs [][]ID, threadsNum int, score func([]ID) float64) []float64 {
	if threadsNum <= 0 {
		panic("threadsNum should be bigger than 0")
	}
	scores := make([]float64, len(seqs))
	ch := make(chan int, threadsNum)
	wg := sync.WaitGroup{}
	for i := range seqs {
		ch <- 1
		wg.Add(1)
		go func(i int) {
			scores[i] = score(seqs[i])
			<-ch
			wg.Done()
		}(i)
	}
	wg.Wait()
	return scores
}

// CalcPerplexity returns 2^(-sum log2 p / N) over every predicted token
// (everything after BOS, EOS included).
func CalcPerplexity(model NgramLM, seqs [][]ID, threadsNum int) float64 {
	countWord := 0
	for _, seq := range seqs {
		if len(seq) > 1 {
			countWord += len(seq) - 1
		}
	}
	if countWord == 0 {
		return math.NaN()
	}
	entropy := 0.0
	for _, s := range scoreSequences(seqs, threadsNum, model.Log2Probability) {
		entropy += s
	}
	entropy *= -1
	entropy /= float64(countWord)
	return math.Exp2(entropy)
}

// CalcLogLikelihood returns the sum of natural log probabilities of seqs.
func CalcLogLikelihood(model NgramLM, seqs [][]ID, threadsNum int) float64 {
	sum := 0.0
	for _, s := range scoreSequences(seqs, threadsNum, model.LogProbability) {
		sum += s
	}
	return sum
}
