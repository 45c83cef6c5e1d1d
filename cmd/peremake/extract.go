// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dblohm7/peremake/remake"
)

// ExtractCmd holds the extract cmd flags
type ExtractCmd struct {
	*GlobalFlags

	Dir string
}

// NewExtractCmd creates a new extract command
func NewExtractCmd(flags *GlobalFlags) *cobra.Command {
	cmd := &ExtractCmd{GlobalFlags: flags}
	extractCmd := &cobra.Command{
		Use:   "extract INPUT",
		Short: "Write each table referenced by the data directory to its own file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.Run(cobraCmd.Context(), cobraCmd.OutOrStdout(), args[0])
		},
	}

	extractCmd.Flags().StringVarP(&cmd.Dir, "dir", "d", ".", "Directory to write tables to")
	return extractCmd
}

// Run runs the command logic
func (cmd *ExtractCmd) Run(ctx context.Context, stdout io.Writer, input string) error {
	log, err := cmd.Logger()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cmd.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	in, err := os.Open(input)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	defer in.Close()

	// Observers must not block, so tables are written once the pass is over.
	var tables []remake.Table
	_, err = remake.Copy(ctx, io.Discard, in,
		remake.WithLogger(log),
		remake.WithTableObserver(remake.TableObserverFunc(func(table remake.Table) {
			tables = append(tables, table)
		})),
	)
	if err != nil {
		return errors.Wrapf(err, "read %s", input)
	}

	for _, table := range tables {
		name := filepath.Join(cmd.Dir, fmt.Sprintf("%02d_%s.bin", int(table.Index), table.Index))
		if err := os.WriteFile(name, table.Data, 0o644); err != nil {
			return errors.Wrap(err, "write table")
		}
		fmt.Fprintf(stdout, "%s\t0x%08X\t%d\n", name, table.VirtualAddress, table.Size)
	}
	return nil
}
