package bayselm

// GenerateSequence samples tokens from the model starting after BOS until
// EOS or maxLength tokens. candidates is the vocabulary to draw from; EOS is
// always a candidate. The returned slice holds neither BOS nor EOS.
func (vpylm *VPYLM) GenerateSequence(candidates []ID, maxLength int) []ID {
	words := make([]ID, 0, len(candidates)+1)
	for _, word := range candidates {
		if word != BOS && word != EOS {
			words = append(words, word)
		}
	}
	words = append(words, EOS)

	context := []ID{BOS}
	probs := make([]float64, len(words))
	for len(context)-1 < maxLength {
		sum := 0.0
		for i, word := range words {
			probs[i] = vpylm.ProbabilityGivenContext(word, context)
			sum += probs[i]
		}
		next := EOS
		if sum > 0 {
			r := vpylm.sampler.Uniform() * sum
			stack := 0.0
			for i, p := range probs {
				stack += p
				if r < stack {
					next = words[i]
					break
				}
			}
		}
		if next == EOS {
			break
		}
		context = append(context, next)
	}
	return context[1:]
}
