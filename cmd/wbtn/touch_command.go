package main

import (
	"github.com/spf13/cobra"

	"wbtn"
	"wbtn/internal/container"
)

func newTouchCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var journalMode string
	var bypass bool

	cmd := &cobra.Command{
		Use:   "touch <file>",
		Short: "Create a container file, or verify an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := container.ModeCreate
			if force {
				mode = container.ModeClobber
			}
			var extra []wbtn.Option
			if journalMode != "" {
				extra = append(extra, wbtn.WithJournalMode(journalMode))
			}
			if bypass {
				extra = append(extra, wbtn.WithBypassIntegrityCheck())
			}
			return ctx.withContainer(cmd.Context(), args[0], mode, extra, func(w *wbtn.Webtoon) error {
				version, err := w.SchemaVersion(cmd.Context())
				if err != nil {
					return err
				}
				if w.Existed() {
					cmd.Printf("%s: existing container, schema version %d\n", args[0], version)
				} else {
					cmd.Printf("%s: created, schema version %d\n", args[0], version)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard any existing file and start fresh")
	cmd.Flags().StringVar(&journalMode, "journal-mode", "", "Journal mode to apply")
	cmd.Flags().BoolVar(&bypass, "bypass-integrity-check", false, "Skip the marker and version checks")
	return cmd
}
