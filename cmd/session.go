package cmd

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"github.com/sleepiecappy/riverflow/internal/buffer"
	"github.com/sleepiecappy/riverflow/internal/config"
	"github.com/sleepiecappy/riverflow/internal/session"
	"github.com/sleepiecappy/riverflow/internal/supervisor"
	"github.com/sleepiecappy/riverflow/internal/tui"
)

// shutdownTimeout bounds the final stop after the UI or loop has ended.
const shutdownTimeout = 10 * time.Second

func supervisorOptions(cfg *config.Config) supervisor.Options {
	return supervisor.Options{
		GracePeriod:       cfg.Process.GracePeriod,
		KillTimeout:       cfg.Process.KillTimeout,
		DrainTimeout:      cfg.Process.DrainTimeout,
		WriteTimeout:      cfg.Process.WriteTimeout,
		RestartDelay:      cfg.Process.RestartDelay,
		ClearOnRestart:    cfg.Process.ClearOnRestart,
		PTY:               cfg.Process.PTY,
		MaxLineBytes:      cfg.Buffer.MaxLineBytes,
		FollowScreenClear: cfg.Buffer.FollowScreenClear,
		InterpretEscapes:  cfg.Input.InterpretEscapes,
	}
}

func sessionOptions(cfg *config.Config, log pslog.Logger) session.Options {
	return session.Options{
		Echo:       cfg.Input.Echo,
		AutoScroll: cfg.TUI.AutoScroll,
		Logger:     log,
	}
}

// newSession wires a buffer, supervisor and session for argv and returns a
// function that stops the process.
func newSession(ctx context.Context, cfg *config.Config, argv []string) (*session.Session, *supervisor.Supervisor, func()) {
	var opts []buffer.Option
	if cfg.Buffer.MaxLines > 0 {
		opts = append(opts, buffer.WithMaxLines(cfg.Buffer.MaxLines))
	}
	buf := buffer.New(opts...)

	command := supervisor.Command{Path: argv[0], Args: argv[1:]}
	sup := supervisor.New(command, buf, supervisorOptions(cfg))
	sess := session.New(buf, sup, sessionOptions(cfg, pslog.Ctx(ctx)))

	shutdown := func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := sup.Close(stopCtx); err != nil {
			pslog.Ctx(ctx).Warn("stop on exit failed", "err", err)
		}
	}
	return sess, sup, shutdown
}

func runTUI(ctx context.Context, argv []string) error {
	sess, sup, shutdown := newSession(ctx, appConfig, argv)
	defer shutdown()

	// A failed first start is shown in the UI, where the operator can restart.
	_ = sess.Start(ctx)

	reload := make(chan config.TUIConfig, 1)
	appLoader.Watch(func(cfg *config.Config, err error) {
		if err != nil {
			pslog.Ctx(ctx).Warn("config reload rejected", "err", err)
			return
		}
		select {
		case reload <- cfg.TUI:
		default:
			pslog.Ctx(ctx).Debug("config reload dropped")
		}
	})

	return tui.Run(ctx, sess, sup.Events(), tui.Options{
		Config: appConfig.TUI,
		Reload: reload,
		Logger: pslog.Ctx(ctx),
	})
}

func appConfigOrDefault() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	return config.Default()
}
