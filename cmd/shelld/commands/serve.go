package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telnet2/shelld/internal/logging"
	"github.com/telnet2/shelld/internal/shell"
	"github.com/telnet2/shelld/internal/transport"
	"github.com/telnet2/shelld/pkg/types"
)

var (
	serveTelnet []string
	serveSSH    []string
	serveHTTP   []string
	serveWS     []string
	servePacks  []string
	serveData   string
	serveWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shell service",
	Long: `Start the shell service: discover commands from the configured packs,
bind the configured listeners and serve sessions until SIGINT or SIGTERM.

Listener flags add to the listeners from the config file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringArrayVar(&serveTelnet, "telnet", nil, "Serve telnet on this address (repeatable)")
	serveCmd.Flags().StringArrayVar(&serveSSH, "ssh", nil, "Serve SSH on this address (repeatable)")
	serveCmd.Flags().StringArrayVar(&serveHTTP, "http", nil, "Serve the HTTP API on this address (repeatable)")
	serveCmd.Flags().StringArrayVar(&serveWS, "websocket", nil, "Serve WebSocket sessions on this address (repeatable)")
	serveCmd.Flags().StringArrayVar(&servePacks, "pack", nil, `Command pack to load: "base" or "file:<dir>" (repeatable)`)
	serveCmd.Flags().StringVar(&serveData, "data-dir", "", "Directory for persistent local maps")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload file packs when their files change")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	log := logging.Component("serve")
	log.Info().Str("version", Version).Strs("packs", cfg.Packs()).Msg("starting shelld")

	svc, err := shell.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	if path := logging.GetLogFilePath(); path != "" {
		cmd.Printf("logging to %s\n", path)
	}
	for _, l := range svc.Listeners() {
		cmd.Printf("%s listening on %s (%s)\n", l.Name(), l.Addr(), l.Type())
	}

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down")

	// Close waits up to the shutdown timeout for executions; this bounds
	// the listener teardown as well.
	closeCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Shutdown())
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("shelld stopped")
	return nil
}

func applyServeFlags(cmd *cobra.Command, cfg *types.Config) {
	add := func(typ string, addrs []string) {
		for _, a := range addrs {
			cfg.Listeners = append(cfg.Listeners, types.ListenerConfig{Type: typ, Address: a})
		}
	}
	add(transport.TypeTelnet, serveTelnet)
	add(transport.TypeSSH, serveSSH)
	add(transport.TypeHTTP, serveHTTP)
	add(transport.TypeWebSocket, serveWS)

	if len(servePacks) > 0 {
		cfg.CommandPacks = append([]string(nil), servePacks...)
	}
	if serveData != "" {
		cfg.DataDir = serveData
	}
	if cmd.Flags().Changed("watch") {
		cfg.Watch = &serveWatch
	}
}
