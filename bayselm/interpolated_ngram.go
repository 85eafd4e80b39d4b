package bayselm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Ngram is an interpolated maximum likelihood n-gram over ids, used as a
// baseline for VPYLM perplexity.
type Ngram struct {
	contextToWordCounts map[string]map[ID]int
	contextToCount      map[string]int

	maxN               int
	interporationRates []float64
	base               float64
}

var _ NgramLM = (*Ngram)(nil)

// NewNgram returns new Ngram instance. interporationRates[n] is the weight
// given to the lower order estimate for a context of length n.
func NewNgram(maxN int, interporationRates []float64, base float64) *Ngram {
	if maxN <= 0 {
		errMsg := fmt.Sprintf("NewNgram error. maxN (%v) should be bigger than 0", maxN)
		panic(errMsg)
	}
	if !(len(interporationRates) == maxN) {
		panic("length of interporationRates does not match maxN")
	}
	ngram := new(Ngram)
	ngram.contextToWordCounts = make(map[string]map[ID]int)
	ngram.contextToCount = make(map[string]int)
	ngram.interporationRates = make([]float64, maxN)
	copy(ngram.interporationRates, interporationRates)
	ngram.maxN = maxN
	ngram.base = base
	return ngram
}

func contextKey(u []ID) string {
	buf := make([]byte, 4*len(u))
	for i, id := range u {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(id))
	}
	return string(buf)
}

// AddCount adds word to context u and all of its suffixes.
func (ngram *Ngram) AddCount(word ID, u []ID) {
	for {
		key := contextKey(u)
		ngram.contextToCount[key]++
		wordCounts, ok := ngram.contextToWordCounts[key]
		if !ok {
			wordCounts = make(map[ID]int)
			ngram.contextToWordCounts[key] = wordCounts
		}
		wordCounts[word]++
		if len(u) == 0 {
			return
		}
		u = u[1:]
	}
}

// CalcProb returns the interpolated probability of word after u, where u
// holds at most maxN-1 ids, oldest first.
func (ngram *Ngram) CalcProb(word ID, u []ID) float64 {
	if len(u) > ngram.maxN-1 {
		errMsg := fmt.Sprintf("CalcProb error. ngram (word = %v, context = %v) is longer than maxN (%v)", word, u, ngram.maxN)
		panic(errMsg)
	}
	key := contextKey(u)
	contextCount := ngram.contextToCount[key]
	body := 0.0
	if contextCount != 0 {
		body = float64(ngram.contextToWordCounts[key][word]) / float64(contextCount)
	}

	lambda := ngram.interporationRates[len(u)]
	smoothing := ngram.base
	if len(u) != 0 {
		smoothing = ngram.CalcProb(word, u[1:])
	}
	return (1.0-lambda)*body + lambda*smoothing
}

func (ngram *Ngram) window(context []ID) []ID {
	u := make([]ID, 0, ngram.maxN-1)
	for n := len(context); n < ngram.maxN-1; n++ {
		u = append(u, BOS)
	}
	if len(context) > ngram.maxN-1 {
		context = context[len(context)-(ngram.maxN-1):]
	}
	return append(u, context...)
}

// TrainFromSeqs counts every token after BOS in seqs.
func (ngram *Ngram) TrainFromSeqs(seqs [][]ID) {
	for _, seq := range seqs {
		for t := 1; t < len(seq); t++ {
			ngram.AddCount(seq[t], ngram.window(seq[:t]))
		}
	}
}

// ProbabilityGivenContext returns P(word | context), context oldest first.
func (ngram *Ngram) ProbabilityGivenContext(word ID, context []ID) float64 {
	return ngram.CalcProb(word, ngram.window(context))
}

// LogProbability returns the natural log probability of seq after BOS.
func (ngram *Ngram) LogProbability(seq []ID) float64 {
	return ngram.Log2Probability(seq) * math.Ln2
}

// Log2Probability returns the log2 probability of seq after BOS.
func (ngram *Ngram) Log2Probability(seq []ID) float64 {
	sum := 0.0
	for t := 1; t < len(seq); t++ {
		sum += math.Log2(ngram.ProbabilityGivenContext(seq[t], seq[:t]))
	}
	return sum
}
