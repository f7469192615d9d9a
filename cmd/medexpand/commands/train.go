package commands

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/medexpand/internal/output"
	"github.com/crimson-sun/medexpand/internal/output/prom"
	"github.com/crimson-sun/medexpand/internal/train"
)

var (
	trainEpochs      int
	trainBatchSize   int
	trainMetricsAddr string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the projection head and save a checkpoint",
	Long: `Train the projection head on the latest processed mapping and dataset
snapshot. Per-epoch scalars go to an NDJSON log under the configured log
directory; with --metrics-addr they are also exported for Prometheus.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "override the configured number of epochs")
	trainCmd.Flags().IntVar(&trainBatchSize, "batch-size", 0, "override the configured batch size")
	trainCmd.Flags().StringVar(&trainMetricsAddr, "metrics-addr", "", "serve training scalars on this address at /metrics")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	if trainEpochs > 0 {
		cfg.Train.Epochs = trainEpochs
	}
	if trainBatchSize > 0 {
		cfg.Data.BatchSize = trainBatchSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var sinks []output.Sink
	if trainMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sink, err := prom.New(reg)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: trainMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	res, err := train.Run(ctx, cfg, train.RunOptions{Sinks: sinks, Logger: logger})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: test accuracy %.4f, checkpoint %s\n",
		res.RunID, res.TestAccuracy, res.Checkpoint)
	return nil
}
