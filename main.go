package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/seiichiinoue/vpylm/bayselm"
	"github.com/seiichiinoue/vpylm/checkpoint"
	"github.com/seiichiinoue/vpylm/config"
)

func main() {
	var (
		flagMode       = flag.String("mode", "train", "train, eval, generate, checkpoints or restore")
		flagConfig     = flag.String("config", "", "YAML configuration file")
		flagCorpus     = flag.String("corpus", "", "training file path (eval: test file path)")
		flagModelDir   = flag.String("model", "", "model directory")
		flagCheckpoint = flag.String("checkpointDB", "", "SQLite checkpoint catalogue")
		flagEpoch      = flag.Int("epoch", 0, "epoch size")
		flagSeed       = flag.Uint64("seed", 0, "random seed")
		flagThreads    = flag.Int("threads", 0, "number of threads")
		flagResume     = flag.Bool("resume", false, "resume training from the model directory")
		flagNumSamples = flag.Int("n", 10, "number of sentences to generate")
		flagRestoreID  = flag.String("checkpointID", "", "checkpoint to restore (default: latest)")
		flagOutDir     = flag.String("out", "", "directory the restored model is written to")
		flagVerbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			logger.Error("cannot load config", slog.Any("err", err))
			os.Exit(1)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "corpus":
			cfg.Corpus = *flagCorpus
		case "model":
			cfg.ModelDir = *flagModelDir
		case "checkpointDB":
			cfg.CheckpointDB = *flagCheckpoint
		case "epoch":
			cfg.Epochs = *flagEpoch
		case "seed":
			cfg.Seed = *flagSeed
		case "threads":
			cfg.Threads = *flagThreads
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid flags", slog.Any("err", err))
		os.Exit(1)
	}
	runtime.GOMAXPROCS(cfg.Threads)

	ctx := context.Background()
	var err error
	switch *flagMode {
	case "train":
		err = train(ctx, cfg, *flagResume, logger)
	case "eval":
		err = eval(cfg, logger)
	case "generate":
		err = generate(cfg, *flagNumSamples)
	case "checkpoints":
		err = listCheckpoints(ctx, cfg)
	case "restore":
		err = restore(ctx, cfg, *flagRestoreID, *flagOutDir, logger)
	default:
		err = fmt.Errorf("unknown mode %q", *flagMode)
	}
	if err != nil {
		logger.Error(*flagMode+" failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func train(ctx context.Context, cfg *config.Train, resume bool, logger *slog.Logger) error {
	var trainer *bayselm.Trainer
	if resume {
		logger.Info("loading model", slog.String("dir", cfg.ModelDir))
		var err error
		trainer, err = bayselm.LoadTrainer(cfg.ModelDir, cfg.NewModel())
		if err != nil {
			return err
		}
	} else {
		if cfg.Corpus == "" {
			return errors.New("no corpus given")
		}
		logger.Info("loading data", slog.String("corpus", cfg.Corpus))
		dataContainer, err := bayselm.NewDataContainerFromFile(cfg.Corpus, cfg.SplitRatio, bayselm.NewSampler(cfg.Seed))
		if err != nil {
			return err
		}
		trainer = bayselm.NewTrainer(cfg.NewModel(), dataContainer)
	}
	trainer.SetLogger(logger)
	trainer.SetProgressBar(cfg.ProgressBar)
	trainer.Prepare()
	data := trainer.Data()
	logger.Info("corpus",
		slog.Int("train", len(data.TrainSeqs)),
		slog.Int("test", len(data.TestSeqs)),
		slog.Int("types", data.NumTypesOfWords()),
		slog.Float64("g0", trainer.Model().G0()),
	)

	if len(data.TestSeqs) > 0 {
		baseline := bayselm.NewNgram(2, []float64{0.1, 0.1}, trainer.Model().G0())
		baseline.TrainFromSeqs(data.TrainSeqs)
		logger.Info("bigram baseline", slog.Float64("perplexity", bayselm.CalcPerplexity(baseline, data.TestSeqs, cfg.Threads)))
	}

	var store *checkpoint.Store
	if cfg.CheckpointDB != "" {
		var err error
		store, err = checkpoint.Open(ctx, cfg.CheckpointDB)
		if err != nil {
			return err
		}
		defer store.Close()
		store.SetLogger(logger)
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		trainer.PerformGibbsSampling()
		if cfg.SampleHyper {
			trainer.SampleHyperparameters()
		}
		if epoch%cfg.EvalInterval != 0 && epoch != cfg.Epochs {
			continue
		}
		model := trainer.Model()
		ll := trainer.LogLikelihood(data.TrainSeqs, cfg.Threads)
		perplexity := math.NaN()
		if len(data.TestSeqs) > 0 {
			perplexity = trainer.Perplexity(data.TestSeqs, cfg.Threads)
		}
		logger.Info("epoch",
			slog.Int("epoch", epoch),
			slog.Float64("log_likelihood", ll),
			slog.Float64("perplexity", perplexity),
			slog.Int("nodes", model.NumNodes()),
			slog.Int("customers", model.NumCustomers()),
			slog.Int("depth", model.Depth()),
		)
		if err := trainer.Save(cfg.ModelDir); err != nil {
			return err
		}
		if store != nil {
			blob, err := model.MarshalBinary()
			if err != nil {
				return err
			}
			stats := model.Stats()
			_, err = store.Put(ctx, checkpoint.Record{
				Epoch:              epoch,
				TrainLogLikelihood: ll,
				TestPerplexity:     perplexity,
				NumNodes:           stats.Nodes,
				NumCustomers:       stats.Customers,
				Depth:              stats.Depth,
				Model:              blob,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func eval(cfg *config.Train, logger *slog.Logger) error {
	trainer, err := bayselm.LoadTrainer(cfg.ModelDir, cfg.NewModel())
	if err != nil {
		return err
	}
	seqs := trainer.Data().TestSeqs
	if cfg.Corpus != "" {
		testData := bayselm.NewDataContainer(trainer.Data().Vocab)
		if err := testData.AddTestFile(cfg.Corpus); err != nil {
			return err
		}
		seqs = testData.TestSeqs
	}
	if len(seqs) == 0 {
		return errors.New("no test sentences")
	}
	model := trainer.Model()
	logger.Info("model", slog.Any("stats", model.Stats()))
	fmt.Println("perplexity", trainer.Perplexity(seqs, cfg.Threads))
	fmt.Println("log_likelihood", trainer.LogLikelihood(seqs, cfg.Threads))
	stops := model.CountStopsByDepth()
	for depth := 0; depth <= model.Depth(); depth++ {
		fmt.Println("stops", depth, stops[depth])
	}
	return nil
}

func generate(cfg *config.Train, n int) error {
	trainer, err := bayselm.LoadTrainer(cfg.ModelDir, cfg.NewModel())
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		fmt.Println(trainer.GenerateSentence(cfg.GenerateMaxLen))
	}
	return nil
}

func listCheckpoints(ctx context.Context, cfg *config.Train) error {
	if cfg.CheckpointDB == "" {
		return errors.New("no checkpoint catalogue given")
	}
	store, err := checkpoint.Open(ctx, cfg.CheckpointDB)
	if err != nil {
		return err
	}
	defer store.Close()
	recs, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Println(strings.Join([]string{
			rec.ID,
			fmt.Sprint(rec.Epoch),
			rec.CreatedAt.Format("2006-01-02T15:04:05"),
			fmt.Sprint(rec.TrainLogLikelihood),
			fmt.Sprint(rec.TestPerplexity),
			fmt.Sprint(rec.NumNodes),
		}, "\t"))
	}
	return nil
}

// restore writes a checkpointed model next to the vocabulary of cfg.ModelDir
// so that eval and generate can read it from outDir.
func restore(ctx context.Context, cfg *config.Train, id string, outDir string, logger *slog.Logger) error {
	if cfg.CheckpointDB == "" {
		return errors.New("no checkpoint catalogue given")
	}
	if outDir == "" {
		return errors.New("no output directory given")
	}
	// the sampling state in ModelDir belongs to the model it holds
	if filepath.Clean(outDir) == filepath.Clean(cfg.ModelDir) {
		return errors.New("output directory must differ from the model directory")
	}
	vocab, err := bayselm.LoadVocab(filepath.Join(cfg.ModelDir, bayselm.VocabFileName))
	if err != nil {
		return err
	}
	store, err := checkpoint.Open(ctx, cfg.CheckpointDB)
	if err != nil {
		return err
	}
	defer store.Close()
	store.SetLogger(logger)

	model := cfg.NewModel()
	rec, err := store.Restore(ctx, id, model)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := vocab.Save(filepath.Join(outDir, bayselm.VocabFileName)); err != nil {
		return err
	}
	if err := model.SaveFile(filepath.Join(outDir, bayselm.ModelFileName)); err != nil {
		return err
	}
	logger.Info("checkpoint restored",
		slog.String("id", rec.ID),
		slog.Int("epoch", rec.Epoch),
		slog.String("dir", outDir),
		slog.Int("nodes", model.NumNodes()),
	)
	return nil
}
