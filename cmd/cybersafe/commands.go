// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/AleutianAI/cybersafe/pkg/logging"
	"github.com/AleutianAI/cybersafe/services/knowledge"
	"github.com/AleutianAI/cybersafe/services/knowledge/config"
	"github.com/AleutianAI/cybersafe/services/knowledge/datatypes"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	configPath string
	cfg        config.Config
	logger     *logging.Logger

	// newService is replaced in tests.
	newService func(ctx context.Context, cfg config.Config) (*knowledge.Service, error)
}

func newRootCmd() *cobra.Command {
	a := &app{
		newService: func(ctx context.Context, cfg config.Config) (*knowledge.Service, error) {
			return knowledge.New(ctx, cfg, nil)
		},
	}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cybersafe",
		Short: "CyberSafe UK cybersecurity assistant backed by retrieval-augmented generation",
		Long: `cybersafe answers cybersecurity questions from a curated UK knowledge base.
Answers are grounded in retrieved passages and fall back to a fixed
advisory when the knowledge base has nothing relevant.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}

	ingestCmd := &cobra.Command{
		Use:     "ingest",
		Short:   "Chunk, embed and index scraped content into the vector store",
		Aliases: []string{"i"},
		Args:    cobra.NoArgs,
		RunE:    a.runIngest,
	}
	ingestCmd.Flags().String("json", "", "Scraped JSON file (defaults to data.json_path)")
	ingestCmd.Flags().String("text-dir", "", "Directory of extracted .txt documents (defaults to data.text_dir)")
	ingestCmd.Flags().String("region", "", "Region tag for ingested documents (defaults to data.region)")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the grounded answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.runAsk,
	}
	askCmd.Flags().Bool("stream", false, "Print the answer as it is generated")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and the recognised environment variables",
		Args:  cobra.NoArgs,
		RunE:  a.runConfig,
	}

	root.AddCommand(serveCmd, ingestCmd, askCmd, configCmd)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger, err = logging.New(logging.Config{
		Level:   level,
		Dir:     cfg.Logging.Dir,
		Service: cfg.Tracing.ServiceName,
		Format:  logging.Format(cfg.Logging.Format),
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(a.logger.Slog())
	return nil
}

func (a *app) service(ctx context.Context) (*knowledge.Service, error) {
	svc, err := a.newService(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start the knowledge service: %w", err)
	}
	return svc, nil
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(ctx))
	return svc.Run(ctx)
}

func (a *app) runIngest(cmd *cobra.Command, _ []string) error {
	jsonPath, _ := cmd.Flags().GetString("json")
	textDir, _ := cmd.Flags().GetString("text-dir")
	if region, _ := cmd.Flags().GetString("region"); region != "" {
		a.cfg.Data.Region = region
	}

	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	report, err := svc.Ingest(ctx, jsonPath, textDir)
	fmt.Fprintf(cmd.OutOrStdout(), "documents: %d\nchunks:    %d\nindexed:   %d\nfailed:    %d\n",
		report.Documents, report.Chunks, report.Indexed, report.Failed)
	return err
}

func (a *app) runAsk(cmd *cobra.Command, args []string) error {
	stream, _ := cmd.Flags().GetBool("stream")
	req := datatypes.QueryRequest{Query: strings.Join(args, " "), Region: a.cfg.Data.Region}

	ctx := cmd.Context()
	svc, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(context.WithoutCancel(ctx))

	out := cmd.OutOrStdout()
	if stream {
		for fragment := range svc.Pipeline().Stream(ctx, req) {
			fmt.Fprint(out, fragment)
		}
		fmt.Fprintln(out)
		return nil
	}
	printAnswer(out, svc.Pipeline().Answer(ctx, req))
	return nil
}

func printAnswer(w io.Writer, ans datatypes.Answer) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, src := range ans.Sources {
		fmt.Fprintf(w, "  - %s <%s>\n", src.Title, src.URL)
	}
}

func (a *app) runConfig(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(a.cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Fprintln(out, "\n# Environment overrides:")
	for _, name := range config.EnvNames() {
		fmt.Fprintf(out, "#   %s\n", name)
	}
	return nil
}
