package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"strat/pkg/clock"
	"strat/pkg/config"
	"strat/pkg/eventlog"
	"strat/pkg/node"
	"strat/pkg/repository"
	"strat/pkg/runtime"
	"strat/pkg/session"
)

// configPath returns the --config flag or the default config location.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// loadConfig resolves and loads the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}

// pidPath returns the host PID file: STRAT_PID_PATH or $STRAT_HOME/strat.pid.
func pidPath() (string, error) {
	if v := os.Getenv("STRAT_PID_PATH"); v != "" {
		return v, nil
	}
	home, err := config.Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "strat.pid"), nil
}

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// openJournal opens the event journal. The returned close func flushes the
// journal before closing the database.
func openJournal(ctx context.Context, c *config.Config, source string) (*eventlog.Journal, func(), error) {
	db, err := eventlog.Open(ctx, c.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	j := eventlog.NewJournal(db, eventlog.JournalOpts{Source: source})
	return j, func() { closeJournal(j, db) }, nil
}

func closeJournal(j *eventlog.Journal, db *sql.DB) {
	j.Close()
	_ = db.Close()
}

// loadTemplate returns the configured session template, or the built-in one.
func loadTemplate(c *config.Config) (*session.Template, error) {
	if c.Template == "" {
		return session.DefaultTemplate()
	}
	return session.LoadTemplate(c.Template)
}

// runtimeConfig maps the file config onto the runtime.
func runtimeConfig(c *config.Config) runtime.Config {
	return runtime.Config{
		Clock: clock.Config{
			TickInterval: c.Clock.TickInterval,
			Workers:      c.Clock.Workers,
		},
		AutosavePeriod:   c.Jobs.AutosavePeriod,
		ScoringPeriod:    c.Jobs.ScoringPeriod,
		MultiplierPeriod: c.Jobs.MultiplierPeriod,
		GrowthFactor:     c.Jobs.GrowthFactor,
	}
}

func scoring(c *config.Config) session.Scoring {
	return session.Scoring{Pool: c.Scoring.Pool, TopBonus: c.Scoring.TopBonus, TopN: c.Scoring.TopN}
}

// nodeConfig maps the file config onto a node.
func nodeConfig(c *config.Config, rec node.Recorder) node.Config {
	return node.Config{
		DiscoveryAddr:    config.ListenAddr(c.Ports.Discovery),
		InputAddr:        config.ListenAddr(c.Ports.Input),
		SyncAddr:         config.ListenAddr(c.Ports.Sync),
		InputPort:        c.Ports.Input,
		SyncPort:         c.Ports.Sync,
		HostAddress:      c.Host,
		SendTimeout:      c.Timeouts.Send,
		ProbeTimeout:     c.Timeouts.Probe,
		ReconnectBackoff: c.Timeouts.ReconnectBackoff,
		Recorder:         rec,
	}
}

// openSession loads the named save, falls back to a new session from the
// template, and reports whether it was created.
func openSession(repo *repository.Repository, c *config.Config, name string) (*session.Session, bool, error) {
	s, err := repo.Load(name)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	t, err := loadTemplate(c)
	if err != nil {
		return nil, false, err
	}
	s, err = session.New(name, t)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}
