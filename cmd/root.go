package cmd

import (
	"fmt"
	"os"
	"strings"

	"stackctl/internal/app"
	"stackctl/internal/config"
	"stackctl/internal/deployerr"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "Deploy a multi-service stack in dependency order",
	Long: `stackctl brings up the services of a deployment descriptor in
dependency order, injects configuration and secrets, waits for every service
to pass its health check and rolls everything back when one does not.

Configuration is layered: built-in defaults, ~/.config/stackctl/config.yaml,
./.stackctl/config.yaml, STACKCTL_* environment variables and finally flags.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. a failed deployment)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// The process exits with the code of the failure kind.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stackctl version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(deployerr.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()

	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newTeardownCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newSecretsCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	viper.SetEnvPrefix("STACKCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("file", "f", "", "deployment descriptor (default stack.yaml)")
	flags.StringP("env", "e", "", "deployment environment: local, compose or one declared in the descriptor")
	flags.String("runtime", "", "runtime: process or docker")
	flags.String("state-dir", "", "directory of the run archive (default .stackctl)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.Bool("debug", false, "enable debug logging")
	for _, name := range []string{"file", "env", "runtime", "state-dir", "log-level", "log-format", "debug"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// bindFlags binds command-local flags so STACKCTL_* variables reach them.
func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}

// loadSettings layers flags and environment over the configuration files.
// Only flags and variables that were actually set override a file value.
func loadSettings() (config.StackctlConfig, error) {
	settings, err := config.LoadConfig()
	if err != nil {
		return settings, err
	}

	overrideString := func(key string, dst *string) {
		if viper.IsSet(key) && viper.GetString(key) != "" {
			*dst = viper.GetString(key)
		}
	}
	overrideString("file", &settings.Descriptor)
	overrideString("env", &settings.Environment)
	overrideString("runtime", &settings.Runtime)
	overrideString("state-dir", &settings.StateDir)
	overrideString("log-level", &settings.Log.Level)
	overrideString("log-format", &settings.Log.Format)
	overrideString("status-addr", &settings.Status.Addr)

	if viper.IsSet("parallel") {
		settings.Orchestrator.Parallel = config.Bool(viper.GetBool("parallel"))
	}
	if viper.IsSet("check-ports") {
		settings.Orchestrator.CheckPorts = config.Bool(viper.GetBool("check-ports"))
	}
	if viper.IsSet("no-status") && viper.GetBool("no-status") {
		settings.Status.Enabled = config.Bool(false)
	}
	if viper.IsSet("reprobe-interval") {
		settings.Orchestrator.ReprobeInterval = viper.GetDuration("reprobe-interval")
	}
	if viper.IsSet("stop-timeout") {
		settings.Orchestrator.StopTimeout = viper.GetDuration("stop-timeout")
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// newApplication builds the application for a command.
func newApplication(cmd *cobra.Command) (*app.Application, *app.Config, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	cfg := app.NewConfig(settings, viper.GetBool("debug"))
	cfg.Out = cmd.OutOrStdout()
	cfg.ErrOut = cmd.ErrOrStderr()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, cfg, nil
}
