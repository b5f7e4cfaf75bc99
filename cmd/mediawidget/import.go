package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eringen/mediawidget"
)

func newImportCmd() *cobra.Command {
	var (
		category int64
		title    string
	)
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Add files to the media library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if title != "" && len(args) > 1 {
				return fmt.Errorf("--title needs exactly one file")
			}
			app := mediawidget.New(cfg, mediawidget.WithLogger(newLogger(cfg)))
			if err := app.Open(); err != nil {
				return err
			}
			defer app.Close()

			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				att, err := app.AddMedia(cmd.Context(), f, filepath.Base(path), title, category)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", att.ID, att.MimeType, att.URL)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&category, "category", 0, "category id to file the media under")
	cmd.Flags().StringVar(&title, "title", "", "title (defaults to the file name)")
	return cmd
}
