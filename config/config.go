// Package config loads the training configuration of the vpylm command.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seiichiinoue/vpylm/bayselm"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Train holds every knob of a training run.
type Train struct {
	Corpus     string  `yaml:"corpus"`
	SplitRatio float64 `yaml:"split_ratio"`
	ModelDir   string  `yaml:"model_dir"`
	Epochs     int     `yaml:"epochs"`
	Seed       uint64  `yaml:"seed"`
	Threads    int     `yaml:"threads"`

	// evaluate, save and checkpoint every EvalInterval epochs
	EvalInterval   int    `yaml:"eval_interval"`
	CheckpointDB   string `yaml:"checkpoint_db"`
	SampleHyper    bool   `yaml:"sample_hyperparameters"`
	ProgressBar    bool   `yaml:"progress_bar"`
	GenerateMaxLen int    `yaml:"generate_max_length"`

	Model Model `yaml:"model"`
}

// Model holds the initial hyper-parameters of the VPYLM.
type Model struct {
	G0       float64 `yaml:"g0"` // 0 means 1 / number of word types
	Theta    float64 `yaml:"theta"`
	D        float64 `yaml:"d"`
	GammaA   float64 `yaml:"gamma_a"`
	GammaB   float64 `yaml:"gamma_b"`
	BetaA    float64 `yaml:"beta_a"`
	BetaB    float64 `yaml:"beta_b"`
	BetaStop float64 `yaml:"beta_stop"`
	BetaPass float64 `yaml:"beta_pass"`
}

// Default returns the configuration used when no file is given.
func Default() *Train {
	return &Train{
		SplitRatio:     0.8,
		ModelDir:       "./model",
		Epochs:         1000,
		Threads:        4,
		EvalInterval:   100,
		SampleHyper:    true,
		ProgressBar:    true,
		GenerateMaxLen: 100,
		Model: Model{
			Theta:    bayselm.DefaultTheta,
			D:        bayselm.DefaultD,
			GammaA:   bayselm.DefaultGammaA,
			GammaB:   bayselm.DefaultGammaB,
			BetaA:    bayselm.DefaultBetaA,
			BetaB:    bayselm.DefaultBetaB,
			BetaStop: bayselm.DefaultBetaStop,
			BetaPass: bayselm.DefaultBetaPass,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Train, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %v: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (cfg *Train) Validate() error {
	switch {
	case cfg.SplitRatio < 0 || cfg.SplitRatio > 1:
		return fmt.Errorf("%w: split_ratio %v out of [0, 1]", ErrInvalidConfig, cfg.SplitRatio)
	case cfg.Epochs < 0:
		return fmt.Errorf("%w: epochs %v is negative", ErrInvalidConfig, cfg.Epochs)
	case cfg.Threads <= 0:
		return fmt.Errorf("%w: threads must be positive", ErrInvalidConfig)
	case cfg.EvalInterval <= 0:
		return fmt.Errorf("%w: eval_interval must be positive", ErrInvalidConfig)
	case cfg.Model.G0 < 0 || cfg.Model.G0 > 1:
		return fmt.Errorf("%w: g0 %v out of [0, 1]", ErrInvalidConfig, cfg.Model.G0)
	case cfg.Model.D < 0 || cfg.Model.D >= 1:
		return fmt.Errorf("%w: d %v out of [0, 1)", ErrInvalidConfig, cfg.Model.D)
	case cfg.Model.Theta < 0:
		return fmt.Errorf("%w: theta %v is negative", ErrInvalidConfig, cfg.Model.Theta)
	case cfg.Model.GammaA <= 0 || cfg.Model.GammaB <= 0 || cfg.Model.BetaA <= 0 || cfg.Model.BetaB <= 0:
		return fmt.Errorf("%w: prior hyper-parameters must be positive", ErrInvalidConfig)
	case cfg.Model.BetaStop <= 0 || cfg.Model.BetaPass <= 0:
		return fmt.Errorf("%w: beta_stop and beta_pass must be positive", ErrInvalidConfig)
	}
	return nil
}

// NewModel builds an empty VPYLM from the configuration.
func (cfg *Train) NewModel() *bayselm.VPYLM {
	m := cfg.Model
	return bayselm.NewVPYLM(m.Theta, m.D, m.GammaA, m.GammaB, m.BetaA, m.BetaB, m.G0, m.BetaStop, m.BetaPass, cfg.Seed)
}
