package main

import (
	"github.com/spf13/cobra"

	"wbtn"
	"wbtn/internal/container"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <file> <new-file>",
		Short: "Copy a container into a fresh, compacted file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), args[0], container.ModeMustExist, nil, func(w *wbtn.Webtoon) error {
				migrated, err := w.Migrate(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				defer func() {
					_ = migrated.Close()
				}()
				cmd.Printf("migrated %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
	return cmd
}
