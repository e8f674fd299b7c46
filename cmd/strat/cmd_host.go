package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"strat/pkg/clock"
	"strat/pkg/config"
	"strat/pkg/node"
	"strat/pkg/protocol"
	"strat/pkg/repository"
	"strat/pkg/runtime"
	"strat/pkg/session"
)

type hostOpts struct {
	session string
	backup  string
	paused  bool
}

// newHostCmd creates the "strat host" subcommand.
func newHostCmd() *cobra.Command {
	var opts hostOpts

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the authoritative session",
		Long: "Loads (or creates) the session, starts the game clock and serves commands\n" +
			"and snapshots to slaves until interrupted. The session is saved on exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if opts.session == "" {
				opts.session = cfg.Session
			}

			pid, err := pidPath()
			if err != nil {
				return err
			}
			lock := hostLock{path: pid}
			if err := lock.acquire(); err != nil {
				return err
			}
			defer lock.release()

			ctx, stop := interruptContext(cmd.Context())
			defer stop()

			path, _ := configPath(cmd)
			return runHost(ctx, cmd.OutOrStdout(), cfg, path, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "session name (default from config)")
	cmd.Flags().StringVar(&opts.backup, "backup", "", "start from this backup of the session instead of its save")
	cmd.Flags().BoolVar(&opts.paused, "paused", false, "start with the clock paused")

	return cmd
}

// runHost runs a host until ctx is cancelled.
func runHost(ctx context.Context, w io.Writer, cfg *config.Config, cfgPath string, opts hostOpts) error {
	steps := newProgress(w, isTTY())
	logger := log.New(log.Writer(), "[host] ", log.LstdFlags)

	repo := repository.New(cfg.DataDir)
	s, created, err := hostSession(repo, cfg, opts)
	if err != nil {
		return err
	}
	if created {
		if cfg.Clock.Speed != s.Time.Speed {
			if err := s.Time.SetSpeed(cfg.Clock.Speed); err != nil {
				return err
			}
		}
		steps.done("created session %q", s.Name)
	} else {
		steps.done("loaded session %q at %s", s.Name, formatElapsed(s))
	}

	journal, closeJournal, err := openJournal(ctx, cfg, "host")
	if err != nil {
		return err
	}
	defer closeJournal()
	steps.done("journal %s", cfg.DBPath)

	rt, err := runtime.New(s, runtimeConfig(cfg), runtime.Deps{
		Persister: repo,
		Scorer:    scoring(cfg),
		Recorder:  journal,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	ncfg := nodeConfig(cfg, journal)
	ncfg.Logger = logger
	n := node.New(rt, ncfg)
	defer n.Close()

	if opts.paused {
		rt.Pause()
	}
	ready := steps.wait("starting channels")
	if err := n.Start(); err != nil {
		ready()
		return err
	}
	if err := n.SetRole(protocol.RoleHost); err != nil {
		ready()
		return err
	}
	ready()
	steps.done("commands on %s, snapshots on %s, discovery on %s",
		n.InputAddr(), n.SyncAddr(), n.DiscoveryAddr())

	go watchConfig(ctx, cfgPath, cfg, rt, logger)

	<-ctx.Done()

	// Final save with the clock stopped so the file matches the last tick.
	rt.Stop()
	saveCtx := context.WithoutCancel(ctx)
	if err := rt.CallOnLogic(saveCtx, func(s *session.Session) error { return repo.Save(s) }); err != nil {
		steps.warn("final save failed: %v", err)
	} else {
		steps.done("saved %s", repo.SavePath(s.Name))
	}
	fmt.Fprintln(w, "host stopped")
	return nil
}

func hostSession(repo *repository.Repository, cfg *config.Config, opts hostOpts) (*session.Session, bool, error) {
	if opts.backup != "" {
		s, err := repo.LoadBackup(opts.session, opts.backup)
		return s, false, err
	}
	return openSession(repo, cfg, opts.session)
}

// watchConfig applies clock speed changes from the config file while the
// host runs.
func watchConfig(ctx context.Context, path string, cfg *config.Config, rt *runtime.Runtime, logger *log.Logger) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	speed := cfg.Clock.Speed
	err := config.Watch(ctx, path, func(c *config.Config) {
		if c.Clock.Speed == speed {
			return
		}
		if err := rt.SetSpeed(c.Clock.Speed); err != nil {
			logger.Printf("apply speed %v: %v", c.Clock.Speed, err)
			return
		}
		logger.Printf("speed set to %v from %s", c.Clock.Speed, path)
		speed = c.Clock.Speed
	}, logger)
	if err != nil {
		logger.Printf("config watch: %v", err)
	}
}

func formatElapsed(s *session.Session) string {
	return clock.FormatSeconds(s.Time.Seconds())
}
