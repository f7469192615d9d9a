package train

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/medexpand/internal/assets"
	"github.com/crimson-sun/medexpand/internal/checkpoint"
	"github.com/crimson-sun/medexpand/internal/config"
	"github.com/crimson-sun/medexpand/internal/dataset"
	"github.com/crimson-sun/medexpand/internal/engine/embedder"
	"github.com/crimson-sun/medexpand/internal/engine/expander"
	"github.com/crimson-sun/medexpand/internal/errs"
	"github.com/crimson-sun/medexpand/internal/mapping"
	"github.com/crimson-sun/medexpand/internal/output"
	"github.com/crimson-sun/medexpand/internal/output/async"
	"github.com/crimson-sun/medexpand/internal/output/file"
	"github.com/crimson-sun/medexpand/internal/output/multi"
	"github.com/crimson-sun/medexpand/internal/stream"
)

// RunOptions injects collaborators into Run. Zero values select the
// defaults built from the configuration.
type RunOptions struct {
	// Encoder replaces the ONNX encoder loaded from cfg.Model.
	Encoder embedder.Encoder
	// Sinks receive scalars in addition to the run's NDJSON log. Run
	// closes them when it returns.
	Sinks []output.Sink
	// Now stamps the run; defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// RunResult describes a finished training run.
type RunResult struct {
	RunID        string
	Checkpoint   string
	ScalarLog    string
	EvalLoss     float64
	TestAccuracy float64
}

// Run trains a model end to end: it picks the latest mapping and dataset
// snapshot, splits the data, fits the head, measures accuracy on the test
// set in a single full-size batch, and saves a checkpoint.
func Run(ctx context.Context, cfg config.Config, opts RunOptions) (res RunResult, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	res = RunResult{RunID: uuid.NewString()}
	logger = logger.With("run_id", res.RunID)

	mapPath, dataPath, err := assets.Latest(cfg.Files.Processed, cfg.Files.MappingSuffix, cfg.Files.DataSuffix)
	if err != nil {
		return res, fmt.Errorf("train: %w", err)
	}
	m, err := mapping.Load(mapPath)
	if err != nil {
		return res, err
	}
	inv := mapping.Invert(m)

	sep, err := dataset.ParseSep(cfg.Files.Sep)
	if err != nil {
		return res, fmt.Errorf("train: %w", err)
	}
	ds, err := loadDataset(dataPath, sep, cfg.Data.TextCol, cfg.Data.LabelCol)
	if err != nil {
		return res, err
	}
	logger.Info("loaded snapshots", "mapping", mapPath, "data", dataPath,
		"expansions", m.Len(), "abbreviations", inv.Len(), "samples", ds.Len())

	trainDS, valDS := ds.Split(cfg.Data.TrainFrac, rand.New(rand.NewPCG(cfg.Data.Seed, 0)))
	trainStream, err := stream.New(trainDS, inv, cfg.Data.BatchSize, cfg.Data.Seed)
	if err != nil {
		return res, fmt.Errorf("train: train split: %w", err)
	}
	valStream, err := stream.New(valDS, inv, min(cfg.Data.BatchSize, valDS.Len()), cfg.Data.Seed+1)
	if err != nil {
		return res, fmt.Errorf("train: validation split: %w", err)
	}
	logger.Info("split dataset", "train", trainDS.Len(), "val", valDS.Len(),
		"batches_per_epoch", trainStream.BatchesPerEpoch())

	enc := opts.Encoder
	if enc == nil {
		onnx, err := embedder.New(cfg.Model.EncoderPath, cfg.Model.VocabPath, embedder.Options{
			LibPath:      cfg.Model.LibPath,
			TokenizerLib: cfg.Model.TokenizerLib,
			MaxSeqLen:    cfg.Model.MaxSeqLen,
			Lowercase:    cfg.Model.Lowercase,
		})
		if err != nil {
			return res, err
		}
		defer onnx.Close()
		enc = onnx
	}
	model, err := expander.New(enc, expander.Config{
		Hidden:      cfg.Model.Hidden,
		Dropout:     cfg.Model.Dropout,
		Aggregation: embedder.Aggregation(cfg.Model.Aggregation),
		Seed:        cfg.Data.Seed,
		CacheBytes:  cfg.Model.CacheBytes,
	})
	if err != nil {
		return res, err
	}

	started := now()
	res.ScalarLog = filepath.Join(cfg.Train.LogDir, started.Format("20060102-150405")+"-"+res.RunID, "scalars.jsonl")
	fileSink, err := file.New(res.ScalarLog,
		file.WithMaxSize(int64(cfg.Train.ScalarLogMaxBytes)),
		file.WithBufSize(cfg.Train.ScalarLogBufferBytes))
	if err != nil {
		return res, err
	}
	queued := async.New(fileSink,
		async.WithBufferSize(cfg.Train.SinkBuffer),
		async.WithOnError(func(err error) {
			logger.Warn("scalar log write failed", "path", res.ScalarLog, "error", err)
		}))
	sink := multi.New(append([]output.Sink{queued}, opts.Sinks...)...)
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("train: close scalar sinks: %w", cerr)
		}
	}()

	logger.Info("training", "epochs", cfg.Train.Epochs, "train_steps", cfg.Train.TrainSteps,
		"eval_steps", cfg.Train.EvalSteps, "lr", cfg.Train.LearningRate, "hidden", cfg.Model.Hidden,
		"aggregation", cfg.Model.Aggregation)
	loopRes, err := Loop(ctx, LoopConfig{
		Epochs:       cfg.Train.Epochs,
		TrainSteps:   cfg.Train.TrainSteps,
		EvalSteps:    cfg.Train.EvalSteps,
		LearningRate: cfg.Train.LearningRate,
		WeightDecay:  cfg.Train.WeightDecay,
		Patience:     cfg.Train.Patience,
		Factor:       cfg.Train.Factor,
		Logger:       logger,
	}, model, trainStream.Stream(), valStream.Stream(), []Metric{Accuracy{}}, sink)
	if err != nil {
		if errs.IsFatal(err) {
			logger.Error("training aborted on inconsistent data", "mapping", mapPath, "data", dataPath, "error", err)
		}
		return res, err
	}
	res.EvalLoss = loopRes.EvalLoss
	hits, misses := model.CacheStats()
	logger.Info("finished train and validation loop", "eval_loss", res.EvalLoss,
		"cache_hits", hits, "cache_misses", misses)

	testDS, err := testDataset(cfg, sep, valDS, logger)
	if err != nil {
		return res, err
	}
	testStream, err := stream.New(testDS, inv, testDS.Len(), cfg.Data.Seed+2)
	if err != nil {
		return res, fmt.Errorf("train: test set: %w", err)
	}
	_, scores, err := Evaluate(ctx, model, testStream.Stream(), 1, []Metric{Accuracy{}})
	if err != nil {
		return res, fmt.Errorf("train: test: %w", err)
	}
	res.TestAccuracy = scores[Accuracy{}.Name()]
	logger.Info("test accuracy", "accuracy", res.TestAccuracy, "samples", testDS.Len())

	finished := now()
	bundle, err := checkpoint.FromExpander(model, finished)
	if err != nil {
		return res, err
	}
	res.Checkpoint = filepath.Join(cfg.Model.Dir, checkpoint.Name(finished))
	if err := checkpoint.Save(res.Checkpoint, bundle); err != nil {
		return res, err
	}
	logger.Info("saved model", "path", res.Checkpoint)
	return res, nil
}

func loadDataset(path string, sep rune, textCol, labelCol string) (*dataset.Dataset, error) {
	t, err := dataset.Load(path, sep)
	if err != nil {
		return nil, err
	}
	return dataset.Build(t, textCol, labelCol)
}

// testDataset loads the held-out test file, or falls back to the validation
// split when none is configured or present.
func testDataset(cfg config.Config, sep rune, val *dataset.Dataset, logger *slog.Logger) (*dataset.Dataset, error) {
	if cfg.Files.TestFile == "" {
		logger.Warn("test file not configured, using validation split")
		return val, nil
	}
	if _, err := os.Stat(cfg.Files.TestFile); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("test file not found, using validation split", "path", cfg.Files.TestFile)
		return val, nil
	}
	return loadDataset(cfg.Files.TestFile, sep, cfg.Data.TestTextCol, cfg.Data.TestLabelCol)
}
