package bayselm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/natefinch/atomic"
)

// File names inside a model directory.
const (
	ModelFileName = "vpylm.model"
	VocabFileName = "vpylm.vocab"
	StateFileName = "vpylm.state"
)

// Trainer runs blocked Gibbs sweeps of a VPYLM over a DataContainer.
type Trainer struct {
	model       *VPYLM
	data        *DataContainer
	randIndexes []int
	progressBar bool
	logger      *slog.Logger
}

// NewTrainer returns Trainer instance.
func NewTrainer(model *VPYLM, data *DataContainer) *Trainer {
	return &Trainer{
		model:       model,
		data:        data,
		progressBar: true,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger replaces the discard logger.
func (trainer *Trainer) SetLogger(logger *slog.Logger) {
	trainer.logger = logger
}

// SetProgressBar enables or disables the per-epoch progress bar.
func (trainer *Trainer) SetProgressBar(enabled bool) {
	trainer.progressBar = enabled
}

// Model returns the trained model.
func (trainer *Trainer) Model() *VPYLM { return trainer.model }

// Data returns the corpus.
func (trainer *Trainer) Data() *DataContainer { return trainer.data }

// Prepare sets g0 to 1 / number of word types unless it was set, and makes
// sure every training sequence has a depth memory.
func (trainer *Trainer) Prepare() {
	if trainer.model.G0() == 0 && trainer.data.NumTypesOfWords() > 0 {
		trainer.model.SetG0(1.0 / float64(trainer.data.NumTypesOfWords()))
	}
	for i := len(trainer.data.SamplingDepthMemories); i < len(trainer.data.TrainSeqs); i++ {
		depths := make([]int, len(trainer.data.TrainSeqs[i]))
		for t := range depths {
			depths[t] = -1
		}
		trainer.data.SamplingDepthMemories = append(trainer.data.SamplingDepthMemories, depths)
	}
}

func (trainer *Trainer) newBar(total int) *pb.ProgressBar {
	bar := pb.New(total)
	if !trainer.progressBar {
		bar.SetWriter(io.Discard)
	}
	return bar.Start()
}

// PerformGibbsSampling visits every training sequence in random order and,
// for each token after BOS, removes it from its previous depth, samples a new
// depth and seats it there.
func (trainer *Trainer) PerformGibbsSampling() {
	trainer.Prepare()
	size := len(trainer.data.TrainSeqs)
	bar := trainer.newBar(size)
	trainer.randIndexes = trainer.model.sampler.Perm(size)
	for _, r := range trainer.randIndexes {
		bar.Add(1)
		seq := trainer.data.TrainSeqs[r]
		prevDepths := trainer.data.SamplingDepthMemories[r]
		for t := 1; t < len(seq); t++ {
			if prevDepths[t] >= 0 {
				trainer.model.RemoveCustomerAtTimestep(seq, t, prevDepths[t])
			}
			depth := trainer.model.SampleDepthAtTimestep(seq, t)
			trainer.model.AddCustomerAtTimestep(seq, t, depth)
			prevDepths[t] = depth
		}
	}
	bar.Finish()
	trainer.logger.Debug("gibbs sweep finished",
		slog.Int("sequences", size),
		slog.Int("nodes", trainer.model.NumNodes()),
		slog.Int("customers", trainer.model.NumCustomers()),
		slog.Int("depth", trainer.model.Depth()),
	)
}

// SampleHyperparameters resamples d and theta for every depth.
func (trainer *Trainer) SampleHyperparameters() {
	trainer.model.SampleHyperparameters()
}

// RemoveAllData removes every seated training token, leaving an empty tree.
func (trainer *Trainer) RemoveAllData() {
	for i, seq := range trainer.data.TrainSeqs {
		prevDepths := trainer.data.SamplingDepthMemories[i]
		for t := 1; t < len(seq); t++ {
			if prevDepths[t] < 0 {
				continue
			}
			trainer.model.RemoveCustomerAtTimestep(seq, t, prevDepths[t])
			prevDepths[t] = -1
		}
	}
}

// Perplexity returns the perplexity of seqs.
func (trainer *Trainer) Perplexity(seqs [][]ID, threadsNum int) float64 {
	return CalcPerplexity(trainer.model, seqs, threadsNum)
}

// LogLikelihood returns the log likelihood of seqs.
func (trainer *Trainer) LogLikelihood(seqs [][]ID, threadsNum int) float64 {
	return CalcLogLikelihood(trainer.model, seqs, threadsNum)
}

// GenerateSentence samples one sentence and joins its tokens with spaces.
func (trainer *Trainer) GenerateSentence(maxLength int) string {
	ids := trainer.model.GenerateSequence(trainer.data.Vocab.Words(), maxLength)
	return trainer.data.Vocab.Decode(ids, " ")
}

// Save writes the model, vocabulary and sampling state into dir.
func (trainer *Trainer) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := trainer.data.Vocab.Save(filepath.Join(dir, VocabFileName)); err != nil {
		return err
	}
	if err := trainer.model.SaveFile(filepath.Join(dir, ModelFileName)); err != nil {
		return err
	}
	state, err := json.Marshal(trainerStateJSON{
		TrainSeqs:             trainer.data.TrainSeqs,
		TestSeqs:              trainer.data.TestSeqs,
		SamplingDepthMemories: trainer.data.SamplingDepthMemories,
	})
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(filepath.Join(dir, StateFileName), bytes.NewReader(state)); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	trainer.logger.Info("model saved", slog.String("dir", dir), slog.Int("nodes", trainer.model.NumNodes()))
	return nil
}

// LoadTrainer restores a Trainer saved with Save into model, which keeps its
// sampler and the initial hyperparameters used for depths the saved model
// never reached. The sampling state is optional; without it the corpus is
// empty and the model can only be scored or used for generation.
func LoadTrainer(dir string, model *VPYLM) (*Trainer, error) {
	vocab, err := LoadVocab(filepath.Join(dir, VocabFileName))
	if err != nil {
		return nil, err
	}
	if err := model.LoadFile(filepath.Join(dir, ModelFileName)); err != nil {
		return nil, err
	}
	data := NewDataContainer(vocab)
	raw, err := os.ReadFile(filepath.Join(dir, StateFileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		var state trainerStateJSON
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if len(state.SamplingDepthMemories) != len(state.TrainSeqs) {
			return nil, fmt.Errorf("load state: %w: %v depth memories for %v sequences", ErrCorrupted, len(state.SamplingDepthMemories), len(state.TrainSeqs))
		}
		for i, depths := range state.SamplingDepthMemories {
			if len(depths) != len(state.TrainSeqs[i]) {
				return nil, fmt.Errorf("load state: %w: sequence %v has %v tokens and %v depths", ErrCorrupted, i, len(state.TrainSeqs[i]), len(depths))
			}
		}
		data.TrainSeqs = state.TrainSeqs
		data.TestSeqs = state.TestSeqs
		data.SamplingDepthMemories = state.SamplingDepthMemories
		for _, seqs := range [][][]ID{data.TrainSeqs, data.TestSeqs} {
			for _, seq := range seqs {
				for _, id := range seq {
					if id != BOS && id != EOS {
						data.WordCount[id]++
						data.SumWordCount++
					}
				}
			}
		}
	}
	return NewTrainer(model, data), nil
}
