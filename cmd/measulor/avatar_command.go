package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/measulor/internal/avatar"
	"github.com/example/measulor/internal/measurement"
)

func newAvatarCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "avatar <measurements.json|->",
		Short: "Describe the avatar for a set of measurements",
		Long: "Reads a JSON object of measurements in centimetres, or the output of\n" +
			"'measulor capture --json', and prints the avatar proportions.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := readMeasurements(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			desc := avatar.Describe(set)
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), desc)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDimensions(desc.Dimensions))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full avatar description as JSON")
	return cmd
}

func readMeasurements(stdin io.Reader, path string) (measurement.Set, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read measurements: %w", err)
	}

	var report struct {
		Measurements measurement.Set `json:"measurements"`
	}
	if err := json.Unmarshal(raw, &report); err == nil && report.Measurements != nil {
		return report.Measurements, nil
	}

	var set measurement.Set
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse measurements: %w", err)
	}
	return set, nil
}
