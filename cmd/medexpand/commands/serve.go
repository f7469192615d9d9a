package commands

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/medexpand/internal/inference"
	"github.com/crimson-sun/medexpand/internal/serve"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /expand_sentence over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if serveAddr != "" {
			cfg.Serve.Addr = serveAddr
		}
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		h := inference.NewHandle(inference.FromConfig(cfg, logger))
		defer h.Close()
		srv, err := serve.New(h, reg, logger)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, cfg.Serve.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}
