package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"wbtn"
	"wbtn/internal/container"
)

func newEpisodesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episodes <file>",
		Short: "List the episodes in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), args[0], container.ModeReadOnly, nil, func(w *wbtn.Webtoon) error {
				episodes, err := w.Episodes.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(episodes) == 0 {
					cmd.Println("no episodes")
					return nil
				}

				rows := make([][]string, 0, len(episodes))
				for _, ep := range episodes {
					count, err := w.Contents.Len(cmd.Context(), &ep.EpisodeNo)
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						strconv.FormatInt(ep.EpisodeNo, 10),
						strconv.Itoa(count),
						ep.AddedAt.Format("2006-01-02 15:04:05"),
					})
				}
				cmd.Println(renderTable([]string{"Episode", "Contents", "Added"}, rows, 1, 2))
				return nil
			})
		},
	}
	return cmd
}
