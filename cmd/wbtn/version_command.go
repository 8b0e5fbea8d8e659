package main

import (
	"github.com/spf13/cobra"

	"wbtn"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show the wbtn version",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("wbtn %s (schema version %d)\n", wbtn.Version, wbtn.SchemaVersion)
			return nil
		},
	}
}
