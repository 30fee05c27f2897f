package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/sync"
)

var (
	syncPushOnly bool
	syncPullOnly bool
	syncDryRun   bool
	syncForce    bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize skills with every enabled remote",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "only push local changes")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "only pull remote changes")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report what would change without writing")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "accepted for compatibility; the sync engine does not read it")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := appctx.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	handle, err := app.Lock(defaultLockTimeout)
	if err != nil {
		return err
	}
	defer handle.Release()

	remotes, err := sync.LoadRemotes(cfg.RemotesPath())
	if err != nil {
		return err
	}

	backends := sync.Backends{}
	for _, r := range remotes {
		if !r.Enabled {
			continue
		}
		switch r.Type {
		case sync.RemoteFilesystem:
			b, err := sync.NewFilesystemRemote(r.URL)
			if err != nil {
				return err
			}
			backends[r.Name] = b
		case sync.RemoteGit:
			b, err := sync.OpenGitRemote(cmd.Context(), r.URL, r.Branch, filepath.Join(app.Config.Root, ".sync-cache", r.Name), &r.Auth)
			if err != nil {
				return err
			}
			backends[r.Name] = b
		}
	}

	report, err := app.Sync.Run(cmd.Context(), remotes, backends, sync.Options{
		PushOnly: syncPushOnly, PullOnly: syncPullOnly, DryRun: syncDryRun, Force: syncForce,
	})
	if err != nil {
		return err
	}
	if !syncDryRun {
		app.InvalidateSearchCache()
	}

	return render(cmd.OutOrStdout(), cfg, report, nil, func(w io.Writer) error {
		fmt.Fprintf(w, "pulled=%d pushed=%d resolved=%d conflicts=%d forked=%d skipped=%d (%dms)\n",
			report.Pulled, report.Pushed, report.Resolved, report.Conflicts, report.Forked, report.Skipped, report.DurationMS)
		for _, e := range report.RemoteErrs {
			fmt.Fprintf(w, "  %s: %s\n", e.Remote, e.Error)
		}
		return nil
	})
}
