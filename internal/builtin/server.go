package builtin

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/telnet2/shelld/internal/command"
)

// ServerLs lists the listeners the service has bound.
func ServerLs(listeners func() []ListenerInfo) *command.Command {
	cmd := command.New("server-ls").Describe("list bound listeners")
	cmd.SetExecuteHandler(func(exe *command.Execution) {
		var infos []ListenerInfo
		if listeners != nil {
			infos = listeners()
		}
		sort.Slice(infos, func(i, j int) bool {
			if infos[i].Type != infos[j].Type {
				return infos[i].Type < infos[j].Type
			}
			return infos[i].Name < infos[j].Name
		})

		w := tabwriter.NewWriter(exe.Stdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tNAME\tADDRESS")
		for _, l := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\n", l.Type, l.Name, l.Address)
		}
		_ = w.Flush()
		_ = exe.Succeed()
	})
	return cmd
}
