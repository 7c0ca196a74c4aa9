package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docsync/am"
	"github.com/teranos/docsync/logger"
	"github.com/teranos/docsync/server"
)

// SyncCmd reconciles the local replica with peers
var SyncCmd = &cobra.Command{
	Use:   "sync [peer-name|url]",
	Short: "Reconcile with one or all peers now",
	Long: `Run one sync session against a peer's /ws/sync endpoint.

With no argument every peer in [sync.peers] is synced in turn. The argument
may be a configured peer name or a base URL.

Examples:
  docsync sync                            # All configured peers
  docsync sync laptop                     # Peer named in am.toml
  docsync sync http://10.0.0.5:8770       # Ad-hoc peer`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-peer sync state",
	Long:  "Show the replica heads and, for each peer synced before, the shared heads and outstanding work",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

var syncForgetCmd = &cobra.Command{
	Use:   "forget <peer-name>",
	Short: "Forget a peer's sync state",
	Long:  "Drop the saved state for a peer. The next session with it starts from scratch.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncForget,
}

var syncDBPath string

func init() {
	SyncCmd.PersistentFlags().StringVar(&syncDBPath, "db-path", "", "Custom database path (overrides config)")
	SyncCmd.AddCommand(syncStatusCmd)
	SyncCmd.AddCommand(syncForgetCmd)
}

// resolvePeers maps the optional argument onto name -> URL pairs.
func resolvePeers(cfg *am.Config, args []string) (map[string]string, error) {
	if len(args) == 0 {
		if len(cfg.Sync.Peers) == 0 {
			return nil, fmt.Errorf("no peers configured; add [sync.peers] to am.toml or pass a URL")
		}
		return cfg.Sync.Peers, nil
	}

	target := args[0]
	if url, ok := cfg.Sync.Peers[strings.ToLower(target)]; ok {
		return map[string]string{target: url}, nil
	}
	if strings.Contains(target, "://") {
		return map[string]string{target: target}, nil
	}
	return nil, fmt.Errorf("unknown peer %q (configured: %s)", target, strings.Join(cfg.PeerNames(), ", "))
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, database, r, err := loadLocal(ctx, syncDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	peers, err := resolvePeers(cfg, args)
	if err != nil {
		return err
	}

	log := logger.ComponentLogger("sync")
	rows := [][]string{{"Peer", "Remote", "Sent", "Received", "Status"}}
	failed := 0

	names := make([]string, 0, len(peers))
	for name := range peers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sessionCtx, cancel := context.WithTimeout(ctx, cfg.GetSessionTimeout())
		result, err := server.SyncWithPeer(sessionCtx, r, peers[name], cfg.GetMaxRounds(), log)
		cancel()

		status := pterm.Green("ok")
		if err != nil {
			failed++
			status = pterm.Red(err.Error())
		}
		rows = append(rows, []string{
			name,
			result.Remote,
			strconv.Itoa(result.Sent),
			strconv.Itoa(result.Received),
			status,
		})
	}

	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	if failed > 0 {
		return fmt.Errorf("%d of %d peers failed", failed, len(peers))
	}
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, database, r, err := loadLocal(ctx, syncDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	st := r.Status()
	pterm.Info.Printf("Replica %s (actor %s): %d changes, %d keys\n", st.Name, st.Actor, st.Changes, st.Keys)

	if len(st.Peers) == 0 {
		pterm.Info.Println("No peers synced yet")
		return nil
	}

	rows := [][]string{{"Peer", "In sync", "Shared heads", "Pending", "Their need", "Unapplied"}}
	for _, p := range st.Peers {
		inSync := pterm.Yellow("no")
		if p.InSync {
			inSync = pterm.Green("yes")
		}
		rows = append(rows, []string{
			p.Name,
			inSync,
			strings.Join(p.SharedHeads, " "),
			strconv.Itoa(p.Pending),
			strconv.Itoa(p.TheirNeed),
			strconv.Itoa(p.Unapplied),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runSyncForget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, database, r, err := loadLocal(ctx, syncDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := r.ForgetPeer(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Forgot sync state for %s\n", args[0])
	return nil
}
