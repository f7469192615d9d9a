package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/medexpand/internal/inference"
)

var expandCmd = &cobra.Command{
	Use:     "expand <sentence>",
	Short:   "Expand the abbreviations in a sentence",
	Example: `  medexpand expand "lage AF tijdens slaap"`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := inference.NewHandle(inference.FromConfig(cfg, logger))
		defer h.Close()

		out, err := h.Expand(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}
