// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dblohm7/peremake/pe"
	"github.com/dblohm7/peremake/remake"
)

// RewriteCmd holds the rewrite cmd flags
type RewriteCmd struct {
	*GlobalFlags

	Output         string
	PlanFile       string
	SetDirectories []string
	AppendHex      string
}

// NewRewriteCmd creates a new rewrite command
func NewRewriteCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &RewriteCmd{GlobalFlags: flags}
	rewriteCmd := &cobra.Command{
		Use:   "rewrite INPUT",
		Short: "Copy a PE file, replacing data directory entries and appending bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), cobraCmd.OutOrStdout(), args[0])
		},
	}

	rewriteCmd.Flags().StringVarP(&cmd.Output, "output", "o", "-", "Where to write the result; - for stdout")
	rewriteCmd.Flags().StringVar(&cmd.PlanFile, "plan", "", "YAML file describing the rewrite")
	rewriteCmd.Flags().StringArrayVar(&cmd.SetDirectories, "set-directory", nil, "Replace a data directory entry, as INDEX=ADDRESS:SIZE. INDEX is a number or a name such as CertificateTable. May be repeated")
	rewriteCmd.Flags().StringVar(&cmd.AppendHex, "append-hex", "", "Hex-encoded bytes to append after the input")
	return rewriteCmd
}

// plan merges the plan file with the flags; flags win.
func (cmd *RewriteCmd) plan() (*Plan, error) {
	plan := &Plan{}
	if cmd.PlanFile != "" {
		var err error
		plan, err = LoadPlan(cmd.PlanFile)
		if err != nil {
			return nil, err
		}
	}
	for _, s := range cmd.SetDirectories {
		r, err := parseDirectoryFlag(s)
		if err != nil {
			return nil, errors.Wrap(err, "--set-directory")
		}
		plan.Directories = append(plan.Directories, r)
	}
	if cmd.AppendHex != "" {
		plan.Append = cmd.AppendHex
	}
	return plan, nil
}

// Run runs the command logic
func (cmd *RewriteCmd) Run(ctx context.Context, stdout io.Writer, input string) error {
	log, err := cmd.Logger()
	if err != nil {
		return err
	}
	plan, err := cmd.plan()
	if err != nil {
		return err
	}
	appendBytes, err := plan.AppendBytes()
	if err != nil {
		return err
	}

	in, err := os.Open(input)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	defer in.Close()

	var out io.Writer = stdout
	if cmd.Output != "-" {
		if same, _ := samePath(input, cmd.Output); same {
			return errors.Errorf("output %s would overwrite input", cmd.Output)
		}
		f, err := os.Create(cmd.Output)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)

	opts := []remake.Option{
		remake.WithLogger(log),
		remake.WithDataDirectoryInterceptor(remake.DataDirectoryInterceptorFunc(func(entries []pe.DataDirectory, next func([]pe.DataDirectory)) {
			replaced := plan.Apply(entries)
			for _, r := range plan.Directories {
				log.WithFields(logrus.Fields{
					"directory": pe.DataDirectoryIndex(r.Index),
					"address":   r.Address,
					"size":      r.Size,
				}).Info("replacing data directory entry")
			}
			next(replaced)
		})),
		remake.WithTableObserver(remake.TableObserverFunc(func(table remake.Table) {
			log.WithFields(logrus.Fields{
				"table": table.Index,
				"size":  table.Size,
			}).Debug("table observed")
		})),
	}
	if len(appendBytes) > 0 {
		opts = append(opts, remake.WithFinishInterceptor(remake.FinishInterceptorFunc(func(w io.Writer, next func()) {
			defer next()
			if _, err := w.Write(appendBytes); err != nil {
				log.WithError(err).Error("append failed")
			}
		})))
	}

	stats, err := remake.Copy(ctx, bw, in, opts...)
	if err != nil {
		return errors.Wrapf(err, "rewrite %s", input)
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "write output")
	}
	if f, ok := out.(*os.File); ok && out != stdout {
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "close output")
		}
	}

	log.WithFields(logrus.Fields{
		"in":     stats.BytesIn,
		"out":    stats.BytesOut,
		"tables": stats.TablesCompleted,
	}).Info("rewrite complete")
	return nil
}

func samePath(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if os.SameFile(ai, bi) {
		return true, nil
	}
	absA, _ := filepath.Abs(a)
	absB, _ := filepath.Abs(b)
	return absA == absB, nil
}
