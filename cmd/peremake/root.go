// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// NewRootCmd returns a new root command
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "peremake",
		Short:         "Stream PE files while rewriting their data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// Execute builds the root command and runs it. It is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := BuildRoot()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		os.Exit(1)
	}
}

// BuildRoot creates the root command with all subcommands attached.
func BuildRoot() *cobra.Command {
	rootCmd := NewRootCmd()
	globalFlags := SetGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewRewriteCmd(globalFlags))
	rootCmd.AddCommand(NewVerifyCmd(globalFlags))
	rootCmd.AddCommand(NewExtractCmd(globalFlags))
	return rootCmd
}
