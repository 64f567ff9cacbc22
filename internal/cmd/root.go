package cmd

import (
	"context"
	"strings"

	"github.com/Iron-Ham/shadowbridge/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "shadowbridge <shadow-name>",
	Short: "Bridge OPC UA tags to a named device shadow",
	Long: `shadowbridge polls the tags of an OPC UA server, publishes them as the
reported state of a named device shadow, and writes the desired set-point
back to the server whenever the shadow's delta changes.

The thing is taken from AWS_IOT_THING_NAME (or thing_name in the config file).`,
	Args:          cobra.ExactArgs(1),
	RunE:          runBridge,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. ctx is cancelled on the first interrupt.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/shadowbridge/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.Flags().String("endpoint", "", "OPC UA endpoint (overrides device.endpoint)")
	rootCmd.Flags().String("broker", "", "MQTT broker URL (overrides mqtt.broker)")
	rootCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	_ = viper.BindPFlag("device.endpoint", rootCmd.Flags().Lookup("endpoint"))
	_ = viper.BindPFlag("mqtt.broker", rootCmd.Flags().Lookup("broker"))
	_ = viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SHADOWBRIDGE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., SHADOWBRIDGE_DEVICE_ENDPOINT for device.endpoint
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = viper.BindEnv("thing_name", "AWS_IOT_THING_NAME", "SHADOWBRIDGE_THING_NAME")

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
