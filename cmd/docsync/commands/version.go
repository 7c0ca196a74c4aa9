package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/docsync/am"
	"github.com/teranos/docsync/db"
	"github.com/teranos/docsync/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show docsync version information",
	Long:  `Display version, build time, commit hash, platform and the local database schema version.`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		info := version.Get().WithSchema(localSchemaVersion())

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error formatting JSON: %v\n", err)
				return
			}
			fmt.Println(string(output))
			return
		}

		fmt.Println(info.String())
		fmt.Printf("Platform: %s\n", info.Platform)
		fmt.Printf("Go: %s\n", info.Go)
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}

// localSchemaVersion reports the migration level of the configured database,
// or "" when there is none yet.
func localSchemaVersion() string {
	cfg, err := am.Load()
	if err != nil {
		return ""
	}
	path := cfg.GetDatabasePath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	database, err := db.Open(path, nil)
	if err != nil {
		return ""
	}
	defer database.Close()

	v, err := db.SchemaVersion(database)
	if err != nil {
		return ""
	}
	return v
}
