package inference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/medexpand/internal/assets"
	"github.com/crimson-sun/medexpand/internal/checkpoint"
	"github.com/crimson-sun/medexpand/internal/config"
	"github.com/crimson-sun/medexpand/internal/engine/embedder"
	"github.com/crimson-sun/medexpand/internal/mapping"
)

// FromConfig returns a Loader that selects a checkpoint in cfg.Model.Dir,
// restores it, and inverts the latest mapping snapshot. Checkpoints without
// an embedded encoder fall back to the configured encoder files.
func FromConfig(cfg config.Config, logger *slog.Logger) Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (*Runtime, error) {
		path, err := checkpoint.Select(cfg.Model.Dir, cfg.Model.Version, logger)
		if err != nil {
			return nil, err
		}
		bundle, err := checkpoint.Load(path)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mapPath, err := assets.LatestFile(cfg.Files.Processed, cfg.Files.MappingSuffix)
		if err != nil {
			return nil, fmt.Errorf("inference: %w", err)
		}
		m, err := mapping.Load(mapPath)
		if err != nil {
			return nil, err
		}

		native := embedder.Options{LibPath: cfg.Model.LibPath, TokenizerLib: cfg.Model.TokenizerLib}
		model, err := bundle.Restore(native, cfg.Model.CacheBytes, func() (embedder.Encoder, error) {
			return embedder.New(cfg.Model.EncoderPath, cfg.Model.VocabPath, embedder.Options{
				LibPath:      cfg.Model.LibPath,
				TokenizerLib: cfg.Model.TokenizerLib,
				MaxSeqLen:    cfg.Model.MaxSeqLen,
				Lowercase:    cfg.Model.Lowercase,
			})
		})
		if err != nil {
			return nil, err
		}

		logger.Info("model loaded", "checkpoint", path, "mapping", mapPath,
			"aggregation", bundle.Aggregation, "hidden", bundle.Hidden)
		return &Runtime{
			Model:      model,
			Inverse:    mapping.Invert(m),
			Checkpoint: path,
			close:      model.Encoder().Close,
		}, nil
	}
}
