package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/docsync/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage docsync configuration",
	Long: `am - Manage docsync configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (DOCSYNC_* prefix)
2. Project config (./am.toml, searched up the directory tree)
3. User config (~/.docsync/am.toml)
4. System config (/etc/docsync/am.toml)
5. Default values

Examples:
  docsync am show                          # Show current configuration
  docsync am show --format json            # Show configuration in JSON format
  docsync am get sync.max_rounds           # Get specific config value
  docsync am set sync.peers.laptop http://laptop.local:8770
  docsync am validate                      # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current docsync configuration merged from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, sync.interval_seconds)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Write a value into the user config (~/.docsync/am.toml), or the project
am.toml with --project. The previous file is kept as .back1 to .back3.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long:  "Validate that the current docsync configuration is valid",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which config files were loaded",
	RunE:  runAmWhere,
}

var (
	configFormat string
	setProject   bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().BoolVar(&setProject, "project", false, "Write to the project am.toml instead of the user config")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# docsync configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Printf("# docsync configuration\n%s", string(data))

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	fmt.Println(am.Get(key))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path, err := setTarget()
	if err != nil {
		return err
	}

	if err := am.SetValue(path, args[0], args[1]); err != nil {
		return err
	}

	// Reject the edit early if it leaves the config invalid
	am.Reset()
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("config written to %s but failed to reload: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		pterm.Warning.Printf("%s now fails validation: %v (previous version in %s.back1)\n", path, err, path)
		return err
	}

	pterm.Success.Printf("Set %s = %s in %s\n", args[0], args[1], path)
	return nil
}

// setTarget picks the file `am set` writes to.
func setTarget() (string, error) {
	if setProject {
		if path := am.FindProjectConfig(); path != "" {
			return path, nil
		}
		return "am.toml", nil
	}
	path := am.UserConfigPath()
	if path == "" {
		return "", fmt.Errorf("no home directory; use --project")
	}
	return path, nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/docsync/am.toml")
	fmt.Println("  3. [USER]     ~/.docsync/am.toml")
	fmt.Println("  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Println("  5. [ENV]      DOCSYNC_* environment variables")
	fmt.Println()

	files := am.LoadedFiles()
	if len(files) == 0 {
		fmt.Println("No config files found; using defaults and environment")
		return nil
	}
	fmt.Println("Loaded:")
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
