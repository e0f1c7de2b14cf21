package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dlqueue/pkg/config"
	"dlqueue/pkg/ui"
)

var configForce bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage dlqueue configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (DLQUEUE_*, also read from .env files)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file with every option set to its default.

The file is written to --config when given and to
$HOME/.config/dlqueue/config.yaml otherwise.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging flags, environment, file and
defaults. The API token is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the configuration and check the environment the daemon needs:
  - YAML syntax and value ranges
  - Output and state directories can be created
  - yt-dlp is installed when the engine may use it`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Set server.api_token if the daemon should require a token")
	fmt.Println("2. Run 'dlqueue config validate' to check the configuration")
	fmt.Println("3. Start the daemon with 'dlqueue serve'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	if display.Server.APIToken != "" {
		display.Server.APIToken = maskToken(display.Server.APIToken)
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (DLQUEUE_*)")
	if path := configPathInUse(); path != "" {
		fmt.Printf("3. Configuration file: %s\n", path)
	} else {
		fmt.Println("3. Configuration file: (none found)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if path := configPathInUse(); path != "" {
		ui.PrintInfo("Validating configuration", path)
	} else {
		ui.PrintInfo("Validating configuration", "defaults and environment")
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	var problems, warnings []string

	if err := os.MkdirAll(cfg.Download.OutputDir, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if cfg.Queue.StateFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Queue.StateFile), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create state directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if cfg.Download.Engine != "http" {
		if _, err := exec.LookPath("yt-dlp"); err != nil {
			warnings = append(warnings, "yt-dlp not found on PATH; video site and audio downloads will fail")
		}
	}
	if cfg.Server.APIToken == "" {
		warnings = append(warnings, "server.api_token is empty; the API accepts unauthenticated requests")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Listen address: %s\n", cfg.Server.Address)
	fmt.Printf("  Output directory: %s\n", cfg.Download.OutputDir)
	fmt.Printf("  Max concurrent: %d\n", cfg.Queue.MaxConcurrent)
	fmt.Printf("  Engine: %s\n", cfg.Download.Engine)
	fmt.Printf("  Rate limit: %d requests/minute per host\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Printf("  Max attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

func configPathInUse() string {
	if configFile != "" {
		return configFile
	}
	return config.FindConfigFile()
}

func maskToken(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
