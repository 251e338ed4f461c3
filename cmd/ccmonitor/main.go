package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/adityakinifr/ccmonitor/internal/config"
	"github.com/adityakinifr/ccmonitor/internal/version"
)

func main() {
	if os.Getenv("CCMONITOR_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	root := cobra.Command{
		Use:   "ccmonitor",
		Short: "ccmonitor ingests AI coding assistant transcripts into per-session usage and cost aggregates.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newHookCommand(cfg))
	root.AddCommand(newSessionsCommand(cfg))
	root.AddCommand(newDailyCommand(cfg))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.String())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
