package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"wbtn"
	"wbtn/internal/container"
	"wbtn/internal/convert"
)

func newInfoCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Show container metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withContainer(cmd.Context(), args[0], container.ModeReadOnly, nil, func(w *wbtn.Webtoon) error {
				version, err := w.SchemaVersion(cmd.Context())
				if err != nil {
					return err
				}
				names, err := w.Info.Names(cmd.Context())
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(names))
				for _, name := range names {
					value, err := w.Info.Get(cmd.Context(), name)
					if err != nil {
						return err
					}
					tag, err := w.Info.Conversion(cmd.Context(), name)
					if err != nil {
						return err
					}
					rows = append(rows, []string{name, string(tag), formatValue(value)})
				}

				cmd.Printf("%s: schema version %d\n", args[0], version)
				if len(rows) > 0 {
					cmd.Println(renderTable([]string{"Name", "Conversion", "Value"}, rows))
				}
				return nil
			})
		},
	}
	return cmd
}

// formatValue renders a value for table output.
func formatValue(v convert.Value) string {
	switch v.Kind() {
	case convert.KindNull:
		return ""
	case convert.KindBool:
		return strconv.FormatBool(v.Bool())
	case convert.KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case convert.KindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case convert.KindString, convert.KindPath:
		return v.String()
	case convert.KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes()))
	case convert.KindJSON:
		raw, err := v.JSON().Dump(false)
		if err != nil {
			return "<invalid json>"
		}
		return raw
	default:
		return "<unknown>"
	}
}
