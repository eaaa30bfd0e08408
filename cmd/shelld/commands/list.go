package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/telnet2/shelld/internal/shell"
)

var listPacks []string

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the commands the configured packs provide",
	Long: `Discover commands from the configured packs without binding any
listener and print them. Packs that fail are reported in the log.`,
	Args: cobra.NoArgs,
	RunE: runCommands,
}

func init() {
	commandsCmd.Flags().StringArrayVar(&listPacks, "pack", nil, `Command pack to load: "base" or "file:<dir>" (repeatable)`)
}

func runCommands(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Listeners = nil
	cfg.Watch = nil
	if len(listPacks) > 0 {
		cfg.CommandPacks = append([]string(nil), listPacks...)
	}

	svc, err := shell.New(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Close(context.Background())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, c := range svc.Manager().Commands() {
		fmt.Fprintf(w, "%s\t%s\n", c.Name(), c.Description())
	}
	return w.Flush()
}
