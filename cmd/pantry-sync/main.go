// Package main provides the CLI entrypoint for pantry-sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/pantry-sync/internal/syncer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pantry-sync",
	Short: "Keep a local pantry inventory in sync with the server",
	Long: `pantry-sync keeps an offline copy of your storage locations and
product entries and reconciles it with the inventory server.

Configuration is read from the environment (or a .env file):
PANTRY_SERVER_URL, PANTRY_LOGIN, PANTRY_PASSWORD, PANTRY_STATE_PATH,
PANTRY_SYNC_INTERVAL, PANTRY_REQUEST_TIMEOUT, PANTRY_LOCALE.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the account locally",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and print its report",
	Args:  cobra.NoArgs,
	RunE:  runSyncOnce,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync every PANTRY_SYNC_INTERVAL until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the local replica",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var offlineCmd = &cobra.Command{
	Use:       "offline <on|off>",
	Short:     "Pause or resume automatic syncing",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runOffline,
}

var shareCmd = &cobra.Command{
	Use:   "share <location> <user>",
	Short: "Share a synced location with another user by name or email",
	Args:  cobra.ExactArgs(2),
	RunE:  runShare,
}

func init() {
	rootCmd.Version = Version
	rootCmd.AddCommand(loginCmd, syncCmd, daemonCmd, statusCmd, offlineCmd, shareCmd)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.signIn(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", u.UserName)

	return nil
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.signIn(ctx); err != nil {
		return err
	}

	sc, err := a.syncContext(ctx)
	if err != nil {
		return err
	}

	rep, err := a.coordinator().RunSyncCycle(ctx, sc)
	if rep != nil {
		if werr := writeYAML(cmd.OutOrStdout(), newReportView(rep)); werr != nil {
			return werr
		}
	}

	return err
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("pantry-sync starting",
		slog.String("version", Version),
		slog.String("server", a.cfg.ServerURL),
		slog.Duration("interval", a.cfg.SyncInterval),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.signIn(ctx); err != nil {
		return err
	}

	sched := syncer.NewScheduler(a.coordinator(), a.syncContext, a.logger)
	sched.OnCycle = func(rep *syncer.Report, err error) {
		if err != nil {
			return
		}

		a.logger.Debug("cycle report",
			slog.Time("last_sync", rep.LastSync),
			slog.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	// Sync right away instead of waiting for the first interval.
	sched.Trigger()

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("pantry-sync stopped")
		return nil
	}

	return err
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.status()
	if err != nil {
		return err
	}

	return writeYAML(cmd.OutOrStdout(), st)
}

func runOffline(cmd *cobra.Command, args []string) error {
	var on bool

	switch args[0] {
	case "on":
		on = true
	case "off":
	default:
		return fmt.Errorf("expected on or off, got %q", args[0])
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.repos.Settings.SetOfflineMode(on); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "offline mode %s\n", args[0])

	return nil
}

func runShare(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.share(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s shared with %s\n", args[0], u.UserName)

	return nil
}

// reportView is the printable form of a sync report.
type reportView struct {
	StartedAt     time.Time `yaml:"started_at"`
	FinishedAt    time.Time `yaml:"finished_at,omitempty"`
	LastSync      time.Time `yaml:"last_sync,omitempty"`
	Skew          string    `yaml:"clock_skew"`
	Pushed        int       `yaml:"pushed"`
	DeletedRemote int       `yaml:"deleted_remote"`
	Pulled        int       `yaml:"pulled"`
	Created       int       `yaml:"created"`
	DeletedLocal  int       `yaml:"deleted_local"`
	Skipped       int       `yaml:"skipped"`
	Remapped      int       `yaml:"remapped"`
	DefaultMerged bool      `yaml:"default_merged"`
	Rejected      []string  `yaml:"rejected,omitempty"`
}

func newReportView(rep *syncer.Report) reportView {
	v := reportView{
		StartedAt:     rep.StartedAt,
		FinishedAt:    rep.FinishedAt,
		LastSync:      rep.LastSync,
		Skew:          rep.Skew.String(),
		Pushed:        rep.Pushed,
		DeletedRemote: rep.DeletedRemote,
		Pulled:        rep.Pulled,
		Created:       rep.Created,
		DeletedLocal:  rep.DeletedLocal,
		Skipped:       rep.Skipped,
		Remapped:      rep.Remapped,
		DefaultMerged: rep.DefaultMerged,
	}

	for _, r := range rep.Rejected {
		v.Rejected = append(v.Rejected, r.Error())
	}

	return v
}
