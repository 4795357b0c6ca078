package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/ResourceImport/internal/template"
)

func newTypesCmd(root *rootOptions) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "types",
		Short: "List importable resource types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := root.registry()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tLABEL\tFIELDS\tREQUIRED")
			for _, c := range reg.All() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.ResourceType, c.Label, len(c.Fields), strings.Join(c.Required(), ", "))
				if !verbose {
					continue
				}
				for _, f := range c.Fields {
					req := ""
					if f.Required {
						req = "required"
					}
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Name, f.Label, f.Type, req)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also list each type's fields")
	return cmd
}

func newTemplateCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "template <type>",
		Short: "Write the example CSV file for a resource type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := root.registry()
			if err != nil {
				return err
			}
			c, err := reg.Get(args[0])
			if err != nil {
				return err
			}

			data := template.Generate(c)
			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "." {
				output = template.FileName(c.ResourceType)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", `Write to a file instead of stdout ("." uses the default file name)`)
	return cmd
}
