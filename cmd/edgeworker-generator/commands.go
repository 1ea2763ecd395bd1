// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/edgeworker-detector/pkg/logging"
	"github.com/AleutianAI/edgeworker-detector/pkg/ux"
	"github.com/AleutianAI/edgeworker-detector/services/generator"
	"github.com/AleutianAI/edgeworker-detector/services/generator/catalog"
	"github.com/AleutianAI/edgeworker-detector/services/generator/config"
	"github.com/AleutianAI/edgeworker-detector/services/generator/regression"
	"github.com/AleutianAI/edgeworker-detector/services/generator/store"
	"github.com/AleutianAI/edgeworker-detector/services/generator/synth"
	"github.com/spf13/cobra"
)

const serviceName = "edgeworker-generator"

// cliFlags holds flag values shared by subcommands.
type cliFlags struct {
	configPath string
	jsonOutput bool
	seed       uint64
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Synthetic EdgeWorker cold-start telemetry generator",
		Long: `Generates cold-start latency measurements for a fleet of simulated
edge PoPs, injects transient regressions, and writes a batch to InfluxDB
every 10 seconds. Without a subcommand it behaves like "run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerator(cmd, flags)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"Optional YAML config file. Environment variables override it.")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the generator and status server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerator(cmd, flags)
		},
	}

	popsCmd := &cobra.Command{
		Use:   "pops",
		Short: "List the monitored PoPs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(flags.configPath)
			if err != nil {
				return err
			}
			return printPoPs(cmd.OutOrStdout(), cat, flags.jsonOutput)
		},
	}
	popsCmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print as JSON")

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Print one synthesized batch as InfluxDB line protocol",
		Long: `Synthesizes a single batch against a fresh regression model and
prints it to stdout. Nothing is written to InfluxDB.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(flags.configPath)
			if err != nil {
				return err
			}
			records := sampleBatch(cat, flags.seed, time.Now())
			_, err = io.WriteString(cmd.OutOrStdout(), store.LineProtocol(records))
			return err
		},
	}
	sampleCmd.Flags().Uint64Var(&flags.seed, "seed", 0, "Random seed (0 picks one)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that InfluxDB is reachable with the configured settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			return checkStore(cmd.Context(), ux.NewPrinter(cmd.OutOrStdout()), cfg.InfluxDB)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, version)
		},
	}

	rootCmd.AddCommand(runCmd, popsCmd, sampleCmd, checkCmd, versionCmd)
	return rootCmd
}

// =============================================================================
// run
// =============================================================================

func runGenerator(cmd *cobra.Command, flags *cliFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LoggingConfig(serviceName))
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := generator.New(*cfg, logger.Slog())
	if err != nil {
		logger.Error("Failed to initialize generator", "error", err)
		return err
	}
	return svc.Run(ctx)
}

// =============================================================================
// check
// =============================================================================

// checkStore connects once and pings, without retries.
func checkStore(ctx context.Context, out *ux.Printer, cfg config.InfluxDBConfig) error {
	connector := store.NewInfluxConnector(store.InfluxConfig{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Org:     cfg.Org,
		Bucket:  cfg.Bucket,
		Timeout: cfg.Timeout,
	})
	target := connector.Target()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := connector.Connect(ctx)
	if err != nil {
		out.Error(fmt.Sprintf("InfluxDB at %s is not reachable: %v", target.URL, err))
		return fmt.Errorf("store check failed: %w", err)
	}
	defer conn.Close()

	out.Success(fmt.Sprintf("InfluxDB at %s is healthy (bucket %s)", target.URL, target.Bucket))
	return nil
}

// =============================================================================
// pops / sample
// =============================================================================

func loadCatalog(configPath string) (*catalog.Catalog, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Catalog.Path == "" {
		return catalog.MustDefault(), nil
	}
	return catalog.LoadFile(cfg.Catalog.Path)
}

func printPoPs(w io.Writer, cat *catalog.Catalog, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cat.All())
	}

	out := ux.NewPrinter(w)
	rows := make([][]string, 0, cat.Len())
	for _, p := range cat.All() {
		rows = append(rows, []string{p.Code, p.City, p.Country, string(p.Tier),
			fmt.Sprintf("%.2f", p.Latitude), fmt.Sprintf("%.2f", p.Longitude)})
	}
	out.Table([]string{"CODE", "CITY", "COUNTRY", "TIER", "LAT", "LON"}, rows)
	out.Info(fmt.Sprintf("%d PoPs across %d countries", cat.Len(), cat.Countries()))
	return nil
}

func sampleBatch(cat *catalog.Catalog, seed uint64, now time.Time) []synth.Record {
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	model := regression.New(rng, nil)
	return synth.New(model, rng).Batch(cat.All(), synth.DefaultFunctions, now)
}
