// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dblohm7/peremake/remake"
)

// VerifyCmd holds the verify cmd flags
type VerifyCmd struct {
	*GlobalFlags

	Parallel int
}

// NewVerifyCmd creates a new verify command
func NewVerifyCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &VerifyCmd{GlobalFlags: flags}
	verifyCmd := &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check that streaming each file reproduces it exactly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), cobraCmd.OutOrStdout(), args)
		},
	}

	verifyCmd.Flags().IntVarP(&cmd.Parallel, "parallel", "p", runtime.NumCPU(), "Number of files to verify concurrently")
	return verifyCmd
}

type verifyResult struct {
	path  string
	stats remake.Stats
	err   error
}

// Run runs the command logic
func (cmd *VerifyCmd) Run(ctx context.Context, stdout io.Writer, paths []string) error {
	log, err := cmd.Logger()
	if err != nil {
		return err
	}

	results := make([]verifyResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cmd.Parallel, 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			results[i] = verifyFile(ctx, log.WithField("file", path), path)
			// Cancellation is the only failure that stops the others.
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(stdout, "FAIL %s: %v\n", r.path, r.err)
			continue
		}
		fmt.Fprintf(stdout, "ok   %s (%d bytes, %d tables)\n", r.path, r.stats.BytesIn, r.stats.TablesCompleted)
	}
	if failed > 0 {
		return errors.Errorf("%d of %d files failed verification", failed, len(paths))
	}
	return nil
}

func verifyFile(ctx context.Context, log logrus.FieldLogger, path string) verifyResult {
	result := verifyResult{path: path}

	f, err := os.Open(path)
	if err != nil {
		result.err = errors.Wrap(err, "open")
		return result
	}
	defer f.Close()

	in := sha256.New()
	out := sha256.New()
	result.stats, err = remake.Copy(ctx, out, io.TeeReader(f, in), remake.WithLogger(log))
	if err != nil {
		result.err = err
		return result
	}

	if result.stats.BytesIn != result.stats.BytesOut {
		result.err = errors.Errorf("read %d bytes but wrote %d", result.stats.BytesIn, result.stats.BytesOut)
		return result
	}
	if !bytes.Equal(in.Sum(nil), out.Sum(nil)) {
		result.err = errors.New("output differs from input")
		return result
	}
	log.WithField("bytes", result.stats.BytesIn).Debug("verified")
	return result
}
