// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/spf13/cobra"
)

func newPresetsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "presets",
		Short:       "List built-in encode presets",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			presets := profile.Presets()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(presets)
			}
			rows := make([][]string, 0, len(presets))
			for _, p := range presets {
				rows = append(rows, []string{
					p.ID,
					p.Name,
					string(p.EncoderType),
					p.Codec,
					p.RateControl + " " + strconv.FormatFloat(p.RateValue, 'f', -1, 64),
				})
			}
			_, err := fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Encoder", "Codec", "Rate"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print presets as JSON")
	return cmd
}
