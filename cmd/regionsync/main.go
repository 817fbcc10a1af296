package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/developingchet/regionsync/internal/bridge"
	"github.com/developingchet/regionsync/internal/config"
	"github.com/developingchet/regionsync/internal/docstore"
	"github.com/developingchet/regionsync/internal/identity"
	"github.com/developingchet/regionsync/internal/logger"
	"github.com/developingchet/regionsync/internal/region"
	"github.com/developingchet/regionsync/internal/stats"
	"github.com/developingchet/regionsync/internal/storage"
	"github.com/developingchet/regionsync/internal/subscription"
	"github.com/developingchet/regionsync/internal/syncer"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "regionsync",
		Short:         "Keeps region status in sync between Firestore and renderers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
		statsCmd(),
		encodeCmd(),
		roleCmd(),
		auditCmd(),
	)
	return root
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Bool("dry_run", cfg.DryRun).Msg("regionsync starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	docs, err := openDocStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer docs.Close()

	syncer.BinaryVersion = Version
	svc, err := syncer.New(cfg, docs, store, identity.NewStatic(cfg.UserID), log)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	return svc.Run(ctx)
}

func openDocStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*docstore.Firestore, error) {
	docs, err := docstore.NewFirestore(ctx, docstore.FirestoreConfig{
		ProjectID:         cfg.FirestoreProjectID,
		CredentialsFile:   cfg.FirebaseCredentialsFile,
		RegionsCollection: cfg.RegionsCollection,
		UsersCollection:   cfg.UsersCollection,
	}, log.With().Str("component", "firestore").Logger())
	if err != nil {
		return nil, fmt.Errorf("init firestore: %w", err)
	}
	return docs, nil
}

// fetchRegions does a one-shot read of the regions collection.
func fetchRegions(cfg *config.Config, log zerolog.Logger) ([]region.Region, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout)
	defer cancel()

	docs, err := openDocStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	defer docs.Close()

	res := <-subscription.NewManager(docs, log).FetchOnce(ctx)
	return res.Regions, res.Err
}

// healthcheckCmd exits 0 if the daemon's health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "regionsync %s\n", Version)
		},
	}
}

// statsCmd reads the collection once and prints per-status counts.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Fetch regions once and print status statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			regions, err := fetchRegions(cfg, buildLogger(cfg))
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats.Calculate(regions))
			return nil
		},
	}
}

func printStats(w io.Writer, s stats.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STATUS\tCOUNT\tPERCENT\n")
	for _, st := range region.Known {
		fmt.Fprintf(tw, "%s\t%d\t%d%%\n", st.Token(), s.Count(st), s.Percentage(st))
	}
	if n := s.Count(region.Unknown); n > 0 {
		fmt.Fprintf(tw, "unknown\t%d\t%d%%\n", n, s.Percentage(region.Unknown))
	}
	fmt.Fprintf(tw, "total\t%d\t\n", s.Total)
	tw.Flush()
	switch {
	case s.AllNormal():
		fmt.Fprintln(w, "all regions normal")
	case s.HasIssues():
		fmt.Fprintln(w, "some regions need attention")
	}
}

// encodeCmd prints the renderer update call for the current collection.
func encodeCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Fetch regions once and print the renderer update call",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			regions, err := fetchRegions(cfg, buildLogger(cfg))
			if err != nil {
				return err
			}
			return printEncoded(cmd.OutOrStdout(), regions, verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "decode", false, "decode the payload again and check it round-trips")
	return cmd
}

func printEncoded(w io.Writer, regions []region.Region, verify bool) error {
	payload, err := bridge.EncodeRegions(regions)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, bridge.UpdateCall(payload))
	if !verify {
		return nil
	}
	back, err := bridge.DecodeRegions(payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if len(back) != len(regions) {
		return fmt.Errorf("round trip: got %d regions, want %d", len(back), len(regions))
	}
	fmt.Fprintf(w, "round trip ok: %d regions\n", len(back))
	return nil
}

// roleCmd inspects or clears the persisted role mirror.
func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Inspect or clear the cached user role",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the cached role",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(store storage.Store) error {
					rec, err := store.GetRole()
					if err != nil {
						return err
					}
					printRole(cmd.OutOrStdout(), rec)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget the cached role",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(store storage.Store) error {
					if err := store.ClearRole(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "role cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

func printRole(w io.Writer, rec *storage.RoleRecord) {
	if rec == nil {
		fmt.Fprintln(w, "no cached role (default: user)")
		return
	}
	fmt.Fprintf(w, "role=%s user=%s updated=%s\n", rec.Role, rec.UserID, rec.UpdatedAt.Format(time.RFC3339))
}

// auditCmd lists persisted audit entries.
func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded edit attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store storage.Store) error {
				entries, err := store.ListAudit()
				if err != nil {
					return err
				}
				printAudit(cmd.OutOrStdout(), entries, limit)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "show at most this many of the newest entries (0 for all)")
	return cmd
}

func printAudit(w io.Writer, entries []storage.AuditEntry, limit int) {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tREGION\tSTATUS\tUSER\tOUTCOME\tERROR\n")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Format(time.RFC3339), e.RegionID, e.Status, e.UserID, e.Outcome, e.Error)
	}
	tw.Flush()
}

func withStore(fn func(storage.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := logger.NewRedactWriter(os.Stderr)
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = out
		return zerolog.New(cw).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
