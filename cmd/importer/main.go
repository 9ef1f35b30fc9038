package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go-graph-import/internal/app"
	"go-graph-import/internal/config"
	"go-graph-import/internal/connector"
	"go-graph-import/internal/model"
	"go-graph-import/internal/pipeline"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

type runOptions struct {
	domainType  string
	domainName  string
	cobDates    []string
	skipFetch   bool
	keepStaging bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:          "importer",
		Short:        "Import daily extracts into the transaction graph",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Domain configuration file, .yaml or .hcl (default $IMPORT_CONFIG or import.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(newRunCmd(&opts), newCheckCmd(&opts))
	return cmd
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) settings() (config.Settings, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return s, err
	}
	if o.configPath != "" {
		s.ConfigPath = o.configPath
	}
	return s, nil
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import one domain for one or more cob dates and wait for the result",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for i, d := range opts.cobDates {
				cob, err := model.ParseCobDate(d)
				if err != nil {
					return fmt.Errorf("invalid --cob-date: %w", err)
				}
				opts.cobDates[i] = cob
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.domainType, "domain-type", "", "Domain type (required)")
	cmd.Flags().StringVar(&opts.domainName, "domain-name", "", "Domain name (required)")
	cmd.Flags().StringSliceVar(&opts.cobDates, "cob-date", nil, "Cob date, YYYYMMDD or YYYY-MM-DD; repeat for several (required)")
	cmd.Flags().BoolVar(&opts.skipFetch, "skip-fetch", false, "Read the rendered source path in place")
	cmd.Flags().BoolVar(&opts.keepStaging, "keep-staging", false, "Keep the staging tree of successful runs")
	_ = cmd.MarkFlagRequired("domain-type")
	_ = cmd.MarkFlagRequired("domain-name")
	_ = cmd.MarkFlagRequired("cob-date")
	return cmd
}

func runImport(ctx context.Context, root *rootOptions, opts runOptions, out io.Writer) error {
	log := root.logger()
	s, err := root.settings()
	if err != nil {
		return err
	}
	if opts.keepStaging {
		s.KeepStaging = true
	}
	a, err := app.Build(ctx, s, log)
	if err != nil {
		return err
	}
	defer a.Close()

	batch := model.ImportBatch{DomainType: opts.domainType, DomainName: opts.domainName, CobDates: opts.cobDates}
	st, runErr := a.Pipeline.RunBatch(ctx, batch, pipeline.RunOptions{SkipFetch: opts.skipFetch})

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if st.ID != "" {
		if err := enc.Encode(st); err != nil {
			return err
		}
	}
	return runErr
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and test every domain's connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.Context(), root, timeout, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-connection timeout")
	return cmd
}

func check(ctx context.Context, root *rootOptions, timeout time.Duration, out io.Writer) error {
	log := root.logger()
	s, err := root.settings()
	if err != nil {
		return err
	}
	reg := connector.NewRegistry()
	cfg, err := config.Load(s.ConfigPath, reg.Known)
	if err != nil {
		return err
	}
	log.Info("configuration valid", "file", s.ConfigPath, "domains", len(cfg.Domains))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tCONNECTOR\tREACHABLE")
	failed := 0
	for _, ref := range cfg.DomainRefs() {
		ok := false
		src, _, err := cfg.Resolve(ref.DomainType, ref.DomainName)
		if err == nil {
			var conn connector.Connector
			if conn, err = reg.Build(src.ConnectorKind, src.ConnectorParams); err == nil {
				cctx, cancel := context.WithTimeout(ctx, timeout)
				ok = conn.TestConnection(cctx)
				cancel()
			}
		}
		if err != nil {
			log.Error("domain not usable", "domain", ref.DomainType+"/"+ref.DomainName, "error", err)
		}
		if !ok {
			failed++
		}
		fmt.Fprintf(tw, "%s/%s\t%s\t%t\n", ref.DomainType, ref.DomainName, ref.Connector, ok)
	}
	tw.Flush()
	if failed > 0 {
		return fmt.Errorf("%d domain(s) unreachable", failed)
	}
	return nil
}
