package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List configured tools and their owning services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-16s %-20s %-8s %s\n", "TOOL", "SERVICE", "RUNTIME", "LANGUAGES")
		for _, tool := range cfg.Tools {
			runtime := ""
			if tool.RequiresRuntime {
				runtime = "yes"
			}
			fmt.Fprintf(w, "%-16s %-20s %-8s %s\n",
				tool.Name, tool.Service, runtime, strings.Join(tool.Languages, ","))
		}

		if len(cfg.Profiles) > 0 {
			names := make([]string, 0, len(cfg.Profiles))
			for name := range cfg.Profiles {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintln(w, "\nprofiles:")
			for _, name := range names {
				fmt.Fprintf(w, "  %-12s %s\n", name, strings.Join(cfg.Profiles[name], ", "))
			}
		}
		return nil
	},
}
