package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deskgate/internal/watch"
)

var (
	watchPoll     bool
	watchInterval float64
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchPoll, "poll", false, "Poll mtimes instead of using inotify")
	watchCmd.Flags().Float64Var(&watchInterval, "poll-interval", 2, "Seconds between polls")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the shared state files and report every change",
	Long: "Monitors the lease, kill-switch, and queue files and logs each change\n" +
		"with the resulting state. Useful while another process holds control.",
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := logger()
	st, err := openStores()
	if err != nil {
		return err
	}

	paths := []string{
		st.Leases.Path(),
		st.Stop.Path(),
		st.Queue.Path(),
	}

	handler := func(path string) {
		ev := log.Info().Str("file", filepath.Base(path))
		switch path {
		case st.Leases.Path():
			if rec, err := st.Leases.Read(); err == nil {
				ev = ev.Str("owner", rec.Owner).
					Bool("paused", rec.Paused).
					Bool("in_window", rec.InControlWindow)
			}
		case st.Stop.Path():
			if rec, err := st.Stop.Read(); err == nil {
				ev = ev.Bool("stopped", rec.Stopped).Str("reason", rec.Reason)
			}
		case st.Queue.Path():
			if sum, err := st.Queue.Summarize(); err == nil {
				ev = ev.Int("pending", sum.Pending).Int("completed", sum.Completed)
			}
		}
		ev.Msg("state changed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Info().Strs("paths", paths).Bool("poll", watchPoll).Msg("watching state files")
	if watchPoll {
		p := watch.NewPoller(paths, handler, time.Duration(watchInterval*float64(time.Second)))
		return p.Run(ctx)
	}
	w := watch.New(paths, handler)
	if err := w.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("inotify unavailable; falling back to polling")
		p := watch.NewPoller(paths, handler, time.Duration(watchInterval*float64(time.Second)))
		return p.Run(ctx)
	}
	return nil
}
