package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
)

var (
	doctorComprehensive bool
	doctorFix           bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check (and optionally repair) the workspace's lock, transaction log, archive, and index",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorComprehensive, "comprehensive", false, "also run SQLite's own integrity check")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "repair what is found instead of only reporting it")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := appctx.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var handle interface{ Release() error }
	if doctorFix {
		h, err := app.Lock(defaultLockTimeout)
		if err != nil {
			return err
		}
		handle = h
		defer handle.Release()
	}

	report, err := app.Doctor.Doctor(cmd.Context(), doctorComprehensive, doctorFix)
	if err != nil {
		return err
	}
	if doctorFix {
		app.InvalidateSearchCache()
	}

	return render(cmd.OutOrStdout(), cfg, report, nil, func(w io.Writer) error {
		if len(report.Issues) == 0 {
			fmt.Fprintln(w, "workspace is healthy")
		} else {
			for _, iss := range report.Issues {
				status := "found"
				if iss.Fixed {
					status = "fixed"
				}
				fmt.Fprintf(w, "[%s] %s (%s): %s\n", iss.Severity, iss.Check, status, iss.Message)
			}
		}
		fmt.Fprintf(w, "search cache: %d memoized result set(s)\n", app.Search.CacheSize())
		return nil
	})
}
