package bayselm

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DataContainer contains tokenized train and test sequences and the sampled
// depth of every training token.
// Each sequence is [BOS, w_1, ..., w_n, EOS].
type DataContainer struct {
	Vocab                 *Vocab
	TrainSeqs             [][]ID
	TestSeqs              [][]ID
	SamplingDepthMemories [][]int // for VPYLM, -1 until the first sweep

	WordCount    map[ID]int
	SumWordCount int
}

// NewDataContainer returns an empty DataContainer over vocab.
func NewDataContainer(vocab *Vocab) *DataContainer {
	if vocab == nil {
		vocab = NewVocab()
	}
	dataContainer := new(DataContainer)
	dataContainer.Vocab = vocab
	dataContainer.WordCount = make(map[ID]int)
	return dataContainer
}

// NewDataContainerFromFile reads one sentence per line, tokens separated by
// spaces, shuffles the lines with sampler and puts the first splitRatio of
// them into the training set.
func NewDataContainerFromFile(filePath string, splitRatio float64, sampler *Sampler) (*DataContainer, error) {
	if splitRatio < 0.0 || splitRatio > 1.0 {
		return nil, fmt.Errorf("splitRatio (%v) is out of range 0.0 to 1.0", splitRatio)
	}
	lines, err := readLines(filePath)
	if err != nil {
		return nil, err
	}

	dataContainer := NewDataContainer(nil)
	split := int(float64(len(lines)) * splitRatio)
	for i, r := range sampler.Perm(len(lines)) {
		if i < split {
			dataContainer.AddTrainData(lines[r])
		} else {
			dataContainer.AddTestData(lines[r])
		}
	}
	return dataContainer, nil
}

func readLines(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open filePath (%v): %w", filePath, err)
	}
	defer f.Close()

	lines := make([]string, 0)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read error in filePath (%v): line %v: %w", filePath, len(lines), err)
	}
	return lines, nil
}

// AddTestFile reads one sentence per line into the test set.
func (dataContainer *DataContainer) AddTestFile(filePath string) error {
	lines, err := readLines(filePath)
	if err != nil {
		return err
	}
	for _, line := range lines {
		dataContainer.AddTestData(line)
	}
	return nil
}

// AddTrainData tokenizes sentence into the training set.
func (dataContainer *DataContainer) AddTrainData(sentence string) {
	if seq := dataContainer.encode(sentence); seq != nil {
		dataContainer.TrainSeqs = append(dataContainer.TrainSeqs, seq)
		depths := make([]int, len(seq))
		for i := range depths {
			depths[i] = -1
		}
		dataContainer.SamplingDepthMemories = append(dataContainer.SamplingDepthMemories, depths)
	}
}

// AddTestData tokenizes sentence into the test set.
func (dataContainer *DataContainer) AddTestData(sentence string) {
	if seq := dataContainer.encode(sentence); seq != nil {
		dataContainer.TestSeqs = append(dataContainer.TestSeqs, seq)
	}
}

func (dataContainer *DataContainer) encode(sentence string) []ID {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return nil
	}
	seq := make([]ID, 0, len(words)+2)
	seq = append(seq, BOS)
	for _, word := range words {
		id := dataContainer.Vocab.Add(word)
		seq = append(seq, id)
		dataContainer.WordCount[id]++
		dataContainer.SumWordCount++
	}
	return append(seq, EOS)
}

// NumTypesOfWords returns the number of distinct words seen.
func (dataContainer *DataContainer) NumTypesOfWords() int {
	return len(dataContainer.WordCount)
}

// GetWordSeq returns the tokens of the i-th training sequence without sentinels.
func (dataContainer *DataContainer) GetWordSeq(i int) []string {
	if i < 0 || i >= len(dataContainer.TrainSeqs) {
		errMsg := fmt.Sprintf("GetWordSeq error. index i (%v) is out of range (%v)", i, len(dataContainer.TrainSeqs))
		panic(errMsg)
	}
	seq := dataContainer.TrainSeqs[i]
	words := make([]string, 0, len(seq))
	for _, id := range seq[1 : len(seq)-1] {
		words = append(words, dataContainer.Vocab.String(id))
	}
	return words
}
