package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/metarepo/internal/typeregistry"
)

func newTypeDefsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "typedefs",
		Short: "Work with type definition catalogues",
	}

	check := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Load and validate a type catalogue",
		Long: `Load YAML type definitions from files or directories, resolve
supertypes and relationship ends, and print a summary of the catalogue.

When no paths are given the configured typedefs.paths are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = opts.cfg.TypeDefPaths
			}
			catalogue, err := typeregistry.LoadFiles(paths...)
			if err != nil {
				return err
			}
			opts.logger.Debug("catalogue loaded", "paths", paths, "types", catalogue.Len())
			return printCatalogue(cmd, catalogue)
		},
	}

	cmd.AddCommand(check)
	return cmd
}

func printCatalogue(cmd *cobra.Command, catalogue *typeregistry.Catalogue) error {
	defs := catalogue.All()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tNAME\tGUID\tSUPERTYPE\tATTRIBUTES")
	for _, def := range defs {
		super := "-"
		if def.SuperType != nil {
			super = def.SuperType.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", def.Category, def.Name, def.GUID, super, len(def.Attributes))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d type definitions OK\n", len(defs))
	return err
}
