// Package train fits the projection head: an epoch loop of train and
// evaluation steps over batch streams, Adam updates, plateau learning-rate
// decay, and per-epoch scalar logging.
package train

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/medexpand/internal/engine/expander"
	"github.com/crimson-sun/medexpand/internal/engine/head"
	"github.com/crimson-sun/medexpand/internal/output"
	"github.com/crimson-sun/medexpand/internal/stream"
)

// BatchSource yields batches. *stream.Iterator satisfies it.
type BatchSource interface {
	Next() (stream.Batch, error)
}

// Trainable is a model whose head can be fitted by Loop.
type Trainable interface {
	TrainMode()
	EvalMode()
	Forward(sentences []string, candidates [][]string) (*expander.Pass, error)
	Params() []*head.Param
}

// LoopConfig controls one training run.
type LoopConfig struct {
	Epochs       int
	TrainSteps   int
	EvalSteps    int
	LearningRate float64
	WeightDecay  float64
	Patience     int
	Factor       float64
	Logger       *slog.Logger
}

// Result summarises a finished loop.
type Result struct {
	TrainLoss    float64
	EvalLoss     float64
	Metrics      map[string]float64
	LearningRate float64
	Epochs       int
}

// Scalar tags written to the sink every epoch.
const (
	TagTrainLoss    = "Loss/train"
	TagTestLoss     = "Loss/test"
	TagLearningRate = "learning_rate"
	tagMetricPrefix = "metric/"
)

// Loop runs cfg.Epochs epochs. Each epoch trains for cfg.TrainSteps batches,
// evaluates for cfg.EvalSteps batches, steps the plateau scheduler on the
// evaluation loss and logs scalars at step = epoch. Any error aborts the
// run; ctx is only checked between steps.
func Loop(ctx context.Context, cfg LoopConfig, m Trainable, trainSrc, evalSrc BatchSource, metrics []Metric, sink output.Sink) (Result, error) {
	if cfg.Epochs < 1 || cfg.TrainSteps < 1 || cfg.EvalSteps < 1 {
		return Result{}, fmt.Errorf("train: epochs, train steps and eval steps must be positive (got %d, %d, %d)",
			cfg.Epochs, cfg.TrainSteps, cfg.EvalSteps)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = output.Discard
	}

	opt := NewAdam(m.Params(), cfg.LearningRate, cfg.WeightDecay)
	sched := NewPlateau(opt, cfg.Factor, cfg.Patience)

	var res Result
	for epoch := range cfg.Epochs {
		trainLoss, err := trainEpoch(ctx, m, trainSrc, opt, cfg.TrainSteps)
		if err != nil {
			return res, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		evalLoss, scores, err := Evaluate(ctx, m, evalSrc, cfg.EvalSteps, metrics)
		if err != nil {
			return res, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		if sched.Step(evalLoss) {
			logger.Info("reducing learning rate", "epoch", epoch, "lr", opt.LearningRate())
		}

		res = Result{
			TrainLoss:    trainLoss,
			EvalLoss:     evalLoss,
			Metrics:      scores,
			LearningRate: opt.LearningRate(),
			Epochs:       epoch + 1,
		}
		if err := logEpoch(sink, logger, epoch, res, metrics); err != nil {
			return res, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
	}
	return res, nil
}

func trainEpoch(ctx context.Context, m Trainable, src BatchSource, opt *Adam, steps int) (float64, error) {
	m.TrainMode()
	var total float64
	for range steps {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b, err := src.Next()
		if err != nil {
			return 0, err
		}

		opt.ZeroGrad()
		pass, err := m.Forward(b.Texts, b.Candidates)
		if err != nil {
			return 0, err
		}
		loss, grad, err := CrossEntropy(pass.Scores, b.Targets)
		if err != nil {
			return 0, err
		}
		if err := pass.Backward(grad); err != nil {
			return 0, err
		}
		opt.Step()
		total += loss
	}
	return total / float64(steps), nil
}

// Evaluate puts m in evaluation mode and averages the loss and each metric
// over steps batches from src.
func Evaluate(ctx context.Context, m Trainable, src BatchSource, steps int, metrics []Metric) (float64, map[string]float64, error) {
	m.EvalMode()
	var total float64
	scores := make(map[string]float64, len(metrics))
	for range steps {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		b, err := src.Next()
		if err != nil {
			return 0, nil, err
		}
		pass, err := m.Forward(b.Texts, b.Candidates)
		if err != nil {
			return 0, nil, err
		}
		loss, _, err := CrossEntropy(pass.Scores, b.Targets)
		if err != nil {
			return 0, nil, err
		}
		total += loss
		for _, mt := range metrics {
			scores[mt.Name()] += mt.Compute(b.Targets, pass.Scores)
		}
	}
	for k := range scores {
		scores[k] /= float64(steps)
	}
	return total / float64(steps), scores, nil
}

func logEpoch(sink output.Sink, logger *slog.Logger, epoch int, res Result, metrics []Metric) error {
	if err := sink.Scalar(TagTrainLoss, res.TrainLoss, epoch); err != nil {
		return err
	}
	if err := sink.Scalar(TagTestLoss, res.EvalLoss, epoch); err != nil {
		return err
	}
	attrs := []any{
		"epoch", epoch,
		"train_loss", res.TrainLoss,
		"test_loss", res.EvalLoss,
		"lr", res.LearningRate,
	}
	for _, mt := range metrics {
		v := res.Metrics[mt.Name()]
		if err := sink.Scalar(tagMetricPrefix+mt.Name(), v, epoch); err != nil {
			return err
		}
		attrs = append(attrs, "metric."+mt.Name(), v)
	}
	if err := sink.Scalar(TagLearningRate, res.LearningRate, epoch); err != nil {
		return err
	}
	logger.Info("epoch finished", attrs...)
	return nil
}
