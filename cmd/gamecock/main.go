// GameCock: single-party swap risk consolidation.
//
// Main CLI entrypoint using cobra command framework.
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
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seenimoa/gamecock/api"
	"github.com/seenimoa/gamecock/internal/config"
	"github.com/seenimoa/gamecock/internal/crossfiling"
	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/internal/profile"
	"github.com/seenimoa/gamecock/internal/resolver"
	"github.com/seenimoa/gamecock/pkg/models"
	"github.com/seenimoa/gamecock/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global state set up by the root command.
var (
	cfg      *config.Config
	log      *slog.Logger
	flushLog = func() error { return nil }
)

func main() {
	err := rootCmd.Execute()
	_ = flushLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gamecock",
	Short: "GameCock: single-party swap risk consolidation",
	Long: `GameCock consolidates an entity's swap exposure across regulatory
sources (CFTC and DTCC swap data, SEC filings, fund derivative holdings)
into one risk profile: gross and net exposure, counterparty concentration,
risk triggers and upcoming obligations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		log, flushLog, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(consolidatedCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("GameCock %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Resolve Command ---

var resolveCmd = &cobra.Command{
	Use:   "resolve [identifier]",
	Short: "Resolve a company name, CIK, LEI, CUSIP or ticker to an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		if search, _ := cmd.Flags().GetBool("search"); search {
			limit, _ := cmd.Flags().GetInt("limit")
			cands, err := a.resolver.Search(ctx, args[0], limit)
			if err != nil {
				return err
			}
			printCandidates(out, cands)
			return nil
		}

		hint, _ := cmd.Flags().GetString("hint")
		entity, err := a.resolver.Resolve(ctx, args[0], models.ParseIdentifierType(hint))
		if cands, ok := resolver.Ambiguous(err); ok {
			fmt.Fprintf(out, "%q is ambiguous; candidates:\n", args[0])
			printCandidates(out, cands)
			return err
		}
		if err != nil {
			return err
		}
		printEntity(out, entity)
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("hint", "", "identifier type (cik, lei, cusip, ticker, name)")
	resolveCmd.Flags().Bool("search", false, "list ranked candidates instead of resolving")
	resolveCmd.Flags().Int("limit", 10, "maximum candidates with --search")
}

// --- Profile Command ---

var profileCmd = &cobra.Command{
	Use:   "profile [identifier]",
	Short: "Build the single-party swap risk profile of an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req, err := profileRequest(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.profiles.BuildRequest(ctx, req)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), p)
		}
		printProfile(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	profileCmd.Flags().String("hint", "", "identifier type (cik, lei, cusip, ticker, name)")
	profileCmd.Flags().String("as-of", "", "valuation date YYYY-MM-DD when the data carries none")
	profileCmd.Flags().Bool("json", false, "print the full profile as JSON")
}

func profileRequest(cmd *cobra.Command, identifier string) (profile.Request, error) {
	hint, _ := cmd.Flags().GetString("hint")
	req := profile.Request{Identifier: identifier, Hint: models.ParseIdentifierType(hint)}
	if s, _ := cmd.Flags().GetString("as-of"); s != "" {
		t, err := time.Parse(utils.DateLayout, s)
		if err != nil {
			return req, fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
		}
		req.AsOf = t
	}
	return req, nil
}

// --- Consolidated Command ---

var consolidatedCmd = &cobra.Command{
	Use:   "consolidated [identifier]",
	Short: "Consolidate a parent and its subsidiaries and check their filings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req, err := profileRequest(cmd, args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.consolidated.BuildConsolidatedRequest(ctx, crossfiling.Request{
			Identifier: req.Identifier,
			Hint:       req.Hint,
			AsOf:       req.AsOf,
		})
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), p)
		}
		printConsolidated(cmd.OutOrStdout(), p)
		return nil
	},
}

func init() {
	consolidatedCmd.Flags().String("hint", "", "identifier type (cik, lei, cusip, ticker, name)")
	consolidatedCmd.Flags().String("as-of", "", "valuation date YYYY-MM-DD when the data carries none")
	consolidatedCmd.Flags().Bool("json", false, "print the full profile as JSON")
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := api.NewServer(cfg, a.services(),
			api.WithLogger(log),
			api.WithMetrics(a.metrics),
			api.WithVersion(version),
		)
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		return srv.ListenAndServe(ctx, addr)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "═══════════════════════════════════════")
		fmt.Fprintln(out, "  GameCock: System Status")
		fmt.Fprintln(out, "═══════════════════════════════════════")
		fmt.Fprintf(out, "  Version:       %s (%s)\n", version, commit)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "  Configuration:")
		fmt.Fprintf(out, "    Store:         %s (%s)\n", cfg.Store.Driver, config.RedactDSN(cfg.Store.DSN))
		fmt.Fprintf(out, "    Sources:       %v\n", cfg.SourceKinds())
		fmt.Fprintf(out, "    Currency:      %s\n", cfg.Risk.ReportingCurrency)
		fmt.Fprintf(out, "    Cache:         %s\n", cfg.Cache.Backend)
		fmt.Fprintf(out, "    Disclosures:   %s\n", cfg.CrossFiling.DisclosureSource)
		fmt.Fprintf(out, "    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "  Secrets:")
		for _, k := range config.CheckSecrets(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Fprintf(out, "    %-25s %s\n", k.Name+":", status)
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "  Store:")
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			fmt.Fprintf(out, "    unreachable: %v\n", err)
		} else {
			defer a.Close()
			snap, err := a.db.Snapshot(ctx)
			switch {
			case err != nil:
				fmt.Fprintf(out, "    connected, snapshot unavailable: %v\n", err)
			case snap.Version == "":
				fmt.Fprintln(out, "    connected, no snapshot recorded")
			default:
				fmt.Fprintf(out, "    connected, snapshot %s as of %s\n", snap.Version, utils.FormatDate(snap.AsOf))
			}
		}

		fmt.Fprintln(out, "═══════════════════════════════════════")
		return nil
	},
}

// --- Config Command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Redacted()); err != nil {
			return err
		}
		return enc.Close()
	},
}

// --- Output ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEntity(w io.Writer, e models.Entity) {
	fmt.Fprintf(w, "%s (%s)\n", e.Name, e.Key)
	ids := []struct {
		label  string
		values []string
	}{
		{"CIK", e.Identifiers.CIK},
		{"LEI", e.Identifiers.LEI},
		{"CUSIP", e.Identifiers.CUSIP},
		{"Ticker", e.Identifiers.Ticker},
	}
	for _, id := range ids {
		if len(id.values) > 0 {
			fmt.Fprintf(w, "  %-8s %v\n", id.label+":", id.values)
		}
	}
}

func printCandidates(w io.Writer, cands []resolver.Candidate) {
	if len(cands) == 0 {
		fmt.Fprintln(w, "  no matches")
		return
	}
	for _, c := range cands {
		fmt.Fprintf(w, "  %.3f  %-40s %s (%s)\n", c.Score, c.Entity.Name, c.Entity.Key, c.MatchedOn)
	}
}

func printProfile(w io.Writer, p *models.SinglePartyRiskProfile) {
	fmt.Fprintf(w, "%s\n\n", p.Summary)
	fmt.Fprintf(w, "  Gross:      %s\n", utils.FormatMoney(p.GrossExposure, p.Currency))
	fmt.Fprintf(w, "  Net:        %s\n", utils.FormatMoney(p.NetExposure, p.Currency))
	fmt.Fprintf(w, "  Exposures:  %d\n", p.ExposureCount)
	fmt.Fprintf(w, "  Coverage:   %s\n", p.Coverage.Status)
	for _, f := range p.Coverage.Unavailable {
		fmt.Fprintf(w, "    unavailable: %s (%s)\n", f.Source, f.Error)
	}

	if cps := p.TopCounterparties(5); len(cps) > 0 {
		fmt.Fprintln(w, "\n  Top counterparties:")
		for _, c := range cps {
			fmt.Fprintf(w, "    %-36s %16s  %s\n", c.Counterparty.Name,
				utils.FormatCompact(c.Gross, p.Currency), utils.FormatPct(c.Share))
		}
	}
	if len(p.Triggers) > 0 {
		fmt.Fprintln(w, "\n  Triggers:")
		for _, t := range p.Triggers {
			fmt.Fprintf(w, "    [%s] %s: %s\n", t.Severity, t.Type, t.Description)
		}
	}
	if near := p.Obligations.NearTerm; len(near) > 0 {
		fmt.Fprintln(w, "\n  Near-term obligations:")
		for _, o := range near {
			fmt.Fprintf(w, "    %s  %-18s %s\n", utils.FormatDate(o.DueDate), o.Type, o.Description)
		}
	}
}

func printConsolidated(w io.Writer, p *models.ConsolidatedRiskProfile) {
	fmt.Fprintf(w, "%s (%s) and %d subsidiaries\n\n", p.Root.Name, p.Root.Key, max(len(p.Members)-1, 0))
	fmt.Fprintf(w, "  Gross:      %s\n", utils.FormatMoney(p.GrossExposure, p.Currency))
	fmt.Fprintf(w, "  Net:        %s\n", utils.FormatMoney(p.NetExposure, p.Currency))
	fmt.Fprintf(w, "  Coverage:   %s\n", p.Coverage)
	if len(p.Discrepancies) > 0 {
		fmt.Fprintln(w, "\n  Discrepancies:")
		for _, d := range p.Discrepancies {
			fmt.Fprintf(w, "    %-30s disclosed %s, aggregated %s (%s)\n", d.Entity.Name,
				utils.FormatCompact(d.Disclosed, p.Currency),
				utils.FormatCompact(d.Aggregated, p.Currency),
				utils.FormatPct(d.RelativeGap))
		}
	}
	for _, n := range p.Notes {
		fmt.Fprintf(w, "  note: %s: %s\n", n.Entity.Name, n.Reason)
	}
}
