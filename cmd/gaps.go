package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Isagog/copertinefull/internal/edition"
)

func newGapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gaps",
		Short: "Print expected edition dates missing from the store",
		Long: `gaps lists every day between the oldest stored edition and today that
should have an edition according to the publication calendar but has none.
Dates are printed as YYYY-MM-DD, one per line, ready for ingest --date-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			cal, err := a.Calendar()
			if err != nil {
				return err
			}
			d, err := a.Detector()
			if err != nil {
				return err
			}
			missing, err := d.FindMissingDates(cmd.Context(), cal)
			if err != nil {
				return fmt.Errorf("find missing dates: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, day := range missing {
				fmt.Fprintln(out, day.Format(edition.ISODateLayout))
			}
			return nil
		},
	}
}
