// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/xgenc/internal/config"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/ManuGH/xgenc/internal/profile"
	"github.com/ManuGH/xgenc/internal/session"
	"github.com/ManuGH/xgenc/internal/session/model"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type runOptions struct {
	profileID         string
	restoreFileTime   bool
	jobs              int
	onError           string
	outputDir         string
	nameTemplate      string
	container         string
	overwrite         string
	overwriteTimeout  int
	decoderFallback   bool
	keepFailedTemp    bool
	noOutputTimeout   int
	noProgressTimeout int
	postAction        string
	postCommand       string
	jsonSummary       bool
}

func newRunCommand(cc *commandContext) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags] INPUT...",
		Short: "Encode the given files in-process and print a summary",
		Long: `Encode the given files with the configured policy.

The first interrupt stops dispatching new jobs and lets running encodes
finish. A second interrupt aborts the session and kills running encoders.
When the output of a job already exists and the overwrite mode is "ask",
an interactive terminal is prompted; otherwise the job is skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			snap := opts.apply(cmd.Flags(), cfg.Session.Snapshot())
			if err := snap.Validate(); err != nil {
				return err
			}
			id := opts.profileID
			if id == "" {
				id = cfg.DefaultProfile
			}
			p, ok := profile.Lookup(id)
			if !ok {
				return fmt.Errorf("unknown profile %q (see `xgenc presets`)", id)
			}
			if opts.restoreFileTime {
				p.RestoreFileTime = true
			}
			jobs := make([]session.JobSpec, 0, len(args))
			for _, in := range args {
				jobs = append(jobs, session.JobSpec{InputPath: in})
			}
			return runSession(cmd, cfg, session.StartRequest{Jobs: jobs, Profile: p, Config: snap}, opts.jsonSummary)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.profileID, "profile", "p", "", "preset id (default: default_profile from config)")
	f.IntVarP(&opts.jobs, "jobs", "j", 0, "maximum concurrent encodes")
	f.StringVar(&opts.onError, "on-error", "", "skip or stop")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "write outputs to this folder instead of next to the input")
	f.StringVar(&opts.nameTemplate, "name", "", "output name template, e.g. {name}_encoded.{ext}")
	f.StringVar(&opts.container, "container", "", "output container extension")
	f.StringVar(&opts.overwrite, "overwrite", "", "ask or auto_rename")
	f.IntVar(&opts.overwriteTimeout, "overwrite-timeout", 0, "seconds to wait for an overwrite decision (0 waits forever)")
	f.BoolVar(&opts.decoderFallback, "decoder-fallback", false, "retry once with software decoding after a failure")
	f.BoolVar(&opts.keepFailedTemp, "keep-failed-temp", false, "keep temp outputs of failed jobs")
	f.IntVar(&opts.noOutputTimeout, "no-output-timeout", 0, "seconds without encoder output before a job times out (0 disables)")
	f.IntVar(&opts.noProgressTimeout, "no-progress-timeout", 0, "seconds without progress before a job times out (0 disables)")
	f.StringVar(&opts.postAction, "post-action", "", "none, shutdown, sleep or custom")
	f.StringVar(&opts.postCommand, "post-command", "", "command line for --post-action=custom")
	f.BoolVar(&opts.restoreFileTime, "restore-file-time", false, "copy each input's modification time onto its output")
	f.BoolVar(&opts.jsonSummary, "json", false, "print the final snapshot as JSON")
	return cmd
}

// apply overlays the flags the user set onto the configured policy.
func (o *runOptions) apply(fs *pflag.FlagSet, snap model.ConfigSnapshot) model.ConfigSnapshot {
	if fs.Changed("jobs") {
		snap.MaxConcurrentJobs = o.jobs
	}
	if fs.Changed("on-error") {
		snap.OnError = model.OnError(o.onError)
	}
	if fs.Changed("output-dir") {
		snap.OutputFolderMode = model.FolderSpecified
		snap.OutputFolderPath = o.outputDir
	}
	if fs.Changed("name") {
		snap.OutputNameTemplate = o.nameTemplate
	}
	if fs.Changed("container") {
		snap.OutputContainer = o.container
	}
	if fs.Changed("overwrite") {
		snap.OverwriteMode = model.OverwriteMode(o.overwrite)
	}
	if fs.Changed("overwrite-timeout") {
		snap.OverwriteTimeoutSec = o.overwriteTimeout
	}
	if fs.Changed("decoder-fallback") {
		snap.DecoderFallback = o.decoderFallback
	}
	if fs.Changed("keep-failed-temp") {
		snap.KeepFailedTemp = o.keepFailedTemp
	}
	if fs.Changed("no-output-timeout") {
		snap.NoOutputTimeoutSec = o.noOutputTimeout
	}
	if fs.Changed("no-progress-timeout") {
		snap.NoProgressTimeoutSec = o.noProgressTimeout
	}
	if fs.Changed("post-action") {
		snap.PostCompleteAction = model.PostAction(o.postAction)
	}
	if fs.Changed("post-command") {
		snap.PostCompleteCommand = o.postCommand
	}
	return snap
}

func runSession(cmd *cobra.Command, cfg config.AppConfig, req session.StartRequest, jsonSummary bool) error {
	logger := xglog.Base()
	bins := cfg.Encoders
	orch, err := openOrchestrator(cfg, func() profile.Binaries { return bins }, logger)
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()
	mgr := orch.manager

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sub, err := mgr.Bus().Subscribe(ctx)
	if err != nil {
		return err
	}

	snap, err := mgr.StartSession(ctx, req)
	if err != nil {
		return err
	}
	sid := snap.Session.ID

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	ui := newRunUI(mgr, snap, cmd.ErrOrStderr(), os.Stdin, interactive, isatty.IsTerminal(os.Stderr.Fd()))
	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		ui.consume(sub.C())
	}()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				interrupts++
				ui.interrupted(interrupts)
			}
		}
	}()

	final, err := mgr.Wait(cmd.Context(), sid)
	if err != nil {
		_ = mgr.Shutdown(context.Background())
		return err
	}
	_ = sub.Close()
	<-uiDone

	if err := printSummary(cmd.OutOrStdout(), final, jsonSummary); err != nil {
		return err
	}
	return sessionResult(final)
}
