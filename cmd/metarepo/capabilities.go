package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/metarepo/internal/app"
	"github.com/rpattn/metarepo/internal/domain"
)

func newCapabilitiesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Print soft delete and undo support per instance type",
		Long: `Open the configured backend and print, for every entity and
relationship type, whether soft delete and undo are available. A function
is available only when the type, the backend and the configuration all
allow it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), opts.cfg, opts.logger, nil)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					opts.logger.Warn("failed to close repository", "error", cerr)
				}
			}()

			defs := slices.DeleteFunc(a.Types.All(), func(def domain.TypeDef) bool {
				return def.Category == domain.CategoryClassificationDef
			})
			slices.SortFunc(defs, func(x, y domain.TypeDef) int { return strings.Compare(x.Name, y.Name) })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "backend: %s\n", opts.cfg.Repository.Backend)
			fmt.Fprintln(w, "TYPE\tCATEGORY\tSOFT DELETE\tUNDO")
			for _, def := range defs {
				caps, err := a.Store.Capabilities(def.Ref())
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, def.Category, yesNo(caps.SoftDelete), yesNo(caps.Undo))
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
