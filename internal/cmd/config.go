package cmd

import (
	"fmt"

	"github.com/Iron-Ham/shadowbridge/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View shadowbridge configuration",
	Long: `View shadowbridge configuration.

Without arguments, displays the effective configuration: defaults, the
config file, SHADOWBRIDGE_* environment variables and AWS_IOT_THING_NAME.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

// runConfigShow prints the configuration even when it does not validate, so
// a broken setup can be inspected. Validation problems go to stderr.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	for _, verr := range cfg.Validate() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", verr.Error())
	}
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(out, used)
		return nil
	}
	fmt.Fprintf(out, "%s (not found)\n", config.ConfigFile())
	return nil
}
