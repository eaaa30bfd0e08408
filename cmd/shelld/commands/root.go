// Package commands provides the CLI commands for shelld.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/telnet2/shelld/internal/config"
	"github.com/telnet2/shelld/internal/logging"
	"github.com/telnet2/shelld/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	prettyLogs bool
	logToFile  bool
	workDir    string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "shelld",
	Short: "shelld - a remote command shell service",
	Long: `shelld serves a registry of commands over telnet, SSH, HTTP and
WebSocket. Commands come from command packs: the built-in "base" pack and
directories of markdown command templates.

Run 'shelld serve' to start the service, or 'shelld commands' to list the
commands the configured packs provide.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			_ = godotenv.Load(envFile)
		} else {
			_ = godotenv.Load()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable log output")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Also write logs to the state directory")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Project directory to load shelld.* config from")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file instead of ./.env")

	rootCmd.SetVersionTemplate(fmt.Sprintf("shelld %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration for the project directory and sets up
// logging from it. Flags win over the config file.
func loadConfig() (*types.Config, error) {
	dir := workDir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	initLogging(cfg, paths)
	return cfg, nil
}

func initLogging(cfg *types.Config, paths *config.Paths) {
	lc := logging.DefaultConfig()
	lc.LogDir = paths.LogPath()

	level := logLevel
	if cfg.Log != nil {
		if level == "" {
			level = cfg.Log.Level
		}
		lc.Pretty = cfg.Log.Pretty
		lc.LogToFile = cfg.Log.File
	}
	if level != "" {
		lc.Level = logging.ParseLevel(level)
	}
	if prettyLogs {
		lc.Pretty = true
	}
	if logToFile {
		lc.LogToFile = true
	}
	logging.Init(lc)
}
