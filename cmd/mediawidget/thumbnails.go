package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eringen/mediawidget"
)

func newThumbnailsCmd() *cobra.Command {
	var category int64
	cmd := &cobra.Command{
		Use:   "thumbnails",
		Short: "Generate missing PDF thumbnails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			app := mediawidget.New(cfg, mediawidget.WithLogger(newLogger(cfg)))
			if err := app.Open(); err != nil {
				return err
			}
			defer app.Close()

			n, err := app.WarmThumbnails(cmd.Context(), category)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d thumbnails\n", n)
			return nil
		},
	}
	cmd.Flags().Int64Var(&category, "category", 0, "limit to one category (0 = all)")
	return cmd
}
