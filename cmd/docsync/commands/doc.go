package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docsync/doc"
	"github.com/teranos/docsync/replica"
	"github.com/teranos/docsync/storage"
)

// DocCmd reads and edits the local document
var DocCmd = &cobra.Command{
	Use:   "doc",
	Short: "Read and edit the local document",
	Long: `Read and edit the replicated document stored in the local database.

Edits are recorded as changes and reach peers at the next sync.

Examples:
  docsync doc show                # All keys
  docsync doc get title           # One value
  docsync doc set title "Draft"   # Write a key
  docsync doc del title           # Remove a key`,
}

var docShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all keys and the current heads",
	Args:  cobra.NoArgs,
	RunE:  runDocShow,
}

var docGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one value",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocGet,
}

var docSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a key",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runDocSet,
}

var docDelCmd = &cobra.Command{
	Use:     "del <key>",
	Aliases: []string{"rm"},
	Short:   "Remove a key",
	Args:    cobra.ExactArgs(1),
	RunE:    runDocDel,
}

var (
	docDBPath string
	docJSON   bool
)

func init() {
	DocCmd.PersistentFlags().StringVar(&docDBPath, "db-path", "", "Custom database path (overrides config)")
	docShowCmd.Flags().BoolVarP(&docJSON, "json", "j", false, "Output as JSON")

	DocCmd.AddCommand(docShowCmd)
	DocCmd.AddCommand(docGetCmd)
	DocCmd.AddCommand(docSetCmd)
	DocCmd.AddCommand(docDelCmd)
}

func runDocShow(cmd *cobra.Command, args []string) error {
	_, database, r, err := loadLocal(cmd.Context(), docDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	d := r.Doc()
	if docJSON {
		data, err := json.MarshalIndent(d.Values(), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	line, err := historyLine(cmd.Context(), database, r)
	if err != nil {
		return err
	}
	pterm.Info.Println(line)

	keys := d.Keys()
	if len(keys) == 0 {
		pterm.Info.Println("Document is empty")
		return nil
	}

	rows := [][]string{{"Key", "Value"}}
	for _, key := range keys {
		value, _ := d.Get(key)
		rows = append(rows, []string{key, value})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

// historyLine summarises the replica's history. The stored count is shown
// only when it differs from what the replica holds in memory.
func historyLine(ctx context.Context, database *sql.DB, r *replica.Replica) (string, error) {
	d := r.Doc()
	stored, err := storage.NewSQLChangeStore(database, nil).Count(ctx)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s: %d changes, heads %s",
		r.Name(), d.Len(), strings.Join(doc.ShortHashes(d.Heads()), " "))
	if stored != d.Len() {
		line += fmt.Sprintf(" (%d stored)", stored)
	}
	return line, nil
}

func runDocGet(cmd *cobra.Command, args []string) error {
	_, database, r, err := loadLocal(cmd.Context(), docDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	value, ok := r.Get(args[0])
	if !ok {
		return fmt.Errorf("no value for key %q", args[0])
	}
	fmt.Println(value)
	return nil
}

func runDocSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, database, r, err := loadLocal(ctx, docDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	patch, err := r.Set(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	printPatch(patch)
	return nil
}

func runDocDel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, database, r, err := loadLocal(ctx, docDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if _, ok := r.Get(args[0]); !ok {
		return fmt.Errorf("no value for key %q", args[0])
	}
	patch, err := r.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	printPatch(patch)
	return nil
}

func printPatch(patch *doc.Patch) {
	for _, h := range patch.Applied {
		pterm.Success.Printf("Committed %s\n", doc.ShortHash(h))
	}
	for _, diff := range patch.Diffs {
		if diff.Deleted {
			pterm.Info.Printf("  - %s\n", diff.Key)
			continue
		}
		pterm.Info.Printf("  %s = %s\n", diff.Key, diff.Value)
	}
}
