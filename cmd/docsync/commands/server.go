package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docsync/am"
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"
	"github.com/teranos/docsync/server"
	"github.com/teranos/docsync/version"
)

// ServerCmd serves the local replica
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Serve the replica and sync with configured peers",
	Long: `Serve the local replica over HTTP.

Peers connect to /ws/sync to reconcile. When sync.interval_seconds is set,
the server also dials every peer in [sync.peers] on that interval. Edits to
the project am.toml (peers, limits, origins) apply without a restart.`,
	RunE: runServer,
}

var (
	serverDBPath string
	serverPort   int
)

func init() {
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Custom database path (overrides config)")
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (overrides server.port)")
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, database, r, err := loadLocal(ctx, serverDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	port := cfg.GetServerPort()
	if serverPort != 0 {
		port = serverPort
	}

	printStartupBanner(cfg, r.Name(), port)

	srv := server.New(database, r, cfg, logger.ComponentLogger("server"))

	// Hot reload follows the project file; the user file is edited through `am set`.
	if path := am.FindProjectConfig(); path != "" {
		if err := srv.WatchConfig(path); err != nil {
			logger.Warnw("Config hot reload disabled", "path", path, logger.FieldError, err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// printStartupBanner prints the replica identity and where it listens
func printStartupBanner(cfg *am.Config, name string, port int) {
	info := version.Get()

	pterm.DefaultHeader.WithFullWidth().Printf("docsync %s", info.Release)
	pterm.Println()

	rows := [][]string{
		{"Replica", name},
		{"Listen", fmt.Sprintf(":%d", port)},
		{"Database", cfg.GetDatabasePath()},
		{"Commit", info.ShortCommit()},
	}
	if interval := cfg.GetSyncInterval(); interval > 0 {
		rows = append(rows, []string{"Sync every", interval.String()})
	} else {
		rows = append(rows, []string{"Sync every", "off (inbound only)"})
	}
	for _, name := range cfg.PeerNames() {
		rows = append(rows, []string{"Peer " + name, cfg.Sync.Peers[name]})
	}
	pterm.DefaultTable.WithData(rows).Render()
	pterm.Println()
}
