package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/penf-chat/pkg/buildinfo"
)

var versionOutput string

// NewVersionCommand creates the 'version' command. It needs no config.
func NewVersionCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := buildinfo.Get(buildinfo.ServiceName)
			out := deps.out()
			if done, err := writeStructured(out, resolveFormat(versionOutput, nil), info); done || err != nil {
				return err
			}
			fmt.Fprintf(out, "penf-chat %s\n", buildinfo.String())
			fmt.Fprintf(out, "  Go: %s\n", info.GoVersion)
			return nil
		},
	}

	cmd.Flags().StringVarP(&versionOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}
