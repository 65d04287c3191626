package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/objgraph/cmd/stream"
	"github.com/ValentinKolb/objgraph/cmd/util"
	"github.com/ValentinKolb/objgraph/lib/codec"
	"github.com/ValentinKolb/objgraph/lib/common"
	"github.com/ValentinKolb/objgraph/lib/demo"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "objgraph",
		Short: "binary object graph serialization",
		Long: fmt.Sprintf(`objgraph (v%s)

A binary serialization codec for object graphs written in Go. Shared
references and cycles survive a round trip, types evolve through
versioned schemas, and decoders admit only what their filter allows.`, Version),
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: printMetrics,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of objgraph",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("objgraph v%s (stream format %d)\n", Version, codec.FormatVersion)
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	for _, c := range stream.Commands {
		RootCmd.AddCommand(c)
	}
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "filter"
	RootCmd.PersistentFlags().String(key, demo.DefaultFilter, util.WrapString("decode filter: ';' separated rules ('name', '!name', '#tag') followed by maxdepth=, maxhandles= and maxbytes= limits. The first matching rule wins, unmatched types are denied"))
	key = "compression"
	RootCmd.PersistentFlags().String(key, "none", util.WrapString("compression of written stream files (none, lz4, zstd). Reading detects it"))
	key = "format"
	RootCmd.PersistentFlags().String(key, "text", util.WrapString("dump format (text, json, cbor, msgpack, gob)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warning", util.WrapString("log level (debug, info, warning, error)"))
	key = "metrics"
	RootCmd.PersistentFlags().Bool(key, false, util.WrapString("print codec metrics in Prometheus format to stderr after the command"))
}

// setup binds the flags of the running command and configures logging
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(util.GetCodecConfig().LogLevel)
}

func printMetrics(_ *cobra.Command, _ []string) error {
	if util.GetCodecConfig().Metrics {
		metrics.WritePrometheus(os.Stderr, false)
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
