package main

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/xgenc/internal/detector"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/spf13/cobra"
)

func newEncodersCommand(cc *commandContext) *cobra.Command {
	var (
		asJSON bool
		gpu    bool
	)
	cmd := &cobra.Command{
		Use:   "encoders",
		Short: "Detect the configured encoder executables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			d := detector.New(func() profile.Binaries { return cfg.Encoders }, xglog.Base())
			tools := d.DetectAll(cmd.Context())
			out := cmd.OutOrStdout()

			var gpuInfo *detector.GPUInfo
			var gpuErr error
			if gpu {
				info, err := d.GPUInfo(cmd.Context())
				if err != nil {
					gpuErr = err
				} else {
					gpuInfo = &info
				}
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Encoders []detector.ToolInfo `json:"encoders"`
					GPU      *detector.GPUInfo   `json:"gpu,omitempty"`
				}{tools, gpuInfo})
			}

			rows := make([][]string, 0, len(tools))
			for _, t := range tools {
				rows = append(rows, []string{string(t.Encoder), t.Path, yesNo(t.Found), t.Version, yesNo(t.Supported), toolNote(t)})
			}
			if _, err := fmt.Fprintln(out, renderTable(
				[]string{"Encoder", "Path", "Found", "Version", "Supported", "Note"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			)); err != nil {
				return err
			}
			if gpuErr != nil {
				_, err := fmt.Fprintf(cmd.ErrOrStderr(), "gpu check failed: %v\n", gpuErr)
				return err
			}
			if gpuInfo != nil {
				_, err := fmt.Fprintf(out, "\n%s\n%s", gpuInfo.Device, gpuInfo.Features)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print detection results as JSON")
	cmd.Flags().BoolVar(&gpu, "gpu", false, "also run NVEncC device and feature checks")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func toolNote(t detector.ToolInfo) string {
	if t.Error != "" {
		return t.Error
	}
	return t.Warning
}
