package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cord/platform/internal/pins"
)

type pinGroupInput struct {
	Stage  pins.Stage `json:"stage"`
	Pins   []pins.Pin `json:"pins"`
	Radius float64    `json:"radius"`
}

// PinsCmd returns the pins command
func PinsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pins",
		Short: "Inspect pin layout calculations",
	}
	cmd.AddCommand(pinsGroupCmd())
	return cmd
}

func pinsGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group [file.json|-]",
		Short: "Group nearby pins the way the annotation layer does",
		Long: `Read {"stage": {...}, "pins": [...], "radius": 40} and print the pin groups.
Use "-" to read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer file.Close()
				r = file
			}
			var input pinGroupInput
			if err := json.NewDecoder(r).Decode(&input); err != nil {
				return fmt.Errorf("decode pins: %w", err)
			}
			groups := pins.Cluster(input.Stage, input.Pins, input.Radius)
			if groups == nil {
				groups = []pins.Group{}
			}
			return printJSON(cmd.OutOrStdout(), groups)
		},
	}
}
