package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/memo/internal/audio/wav"
	"github.com/jwulff/memo/internal/capture"
	"github.com/jwulff/memo/internal/catalog"
	"github.com/jwulff/memo/internal/chunkfile"
	"github.com/jwulff/memo/internal/clock"
	"github.com/jwulff/memo/internal/config"
	"github.com/jwulff/memo/internal/daemon"
	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/metrics"
	"github.com/jwulff/memo/internal/permission"
	"github.com/jwulff/memo/internal/playback"
	"github.com/jwulff/memo/internal/session"
)

func newDaemonCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the recording daemon",
		Long: `Run the recording daemon. It owns the microphone, rotates chunk files,
persists finished chunks and serves clients over a Unix socket until
interrupted. On SIGINT or SIGTERM the current chunk is finalised first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			configureLogging(cfg, cmd.ErrOrStderr(), "memo-daemon")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return RunDaemon(ctx, cfg)
		},
	}
}

// RunDaemon wires the recording stack from cfg and serves until ctx is
// cancelled.
func RunDaemon(ctx context.Context, cfg config.Config) error {
	d, err := newDaemonStack(cfg)
	if err != nil {
		return err
	}
	defer d.close()
	return d.run(ctx)
}

type daemonStack struct {
	cfg     config.Config
	logger  zerolog.Logger
	store   *db.Store
	manager *session.Manager
	player  *playback.Coordinator
	catalog *catalog.Catalog
	server  *daemon.Server
}

func newDaemonStack(cfg config.Config) (*daemonStack, error) {
	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.DBPath), filepath.Dir(cfg.SocketPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	format := wav.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	var (
		recorder capture.Device
		speaker  playback.Device
	)
	switch cfg.Audio.Backend {
	case config.BackendSilence:
		recorder = capture.NewSilenceDevice(format, time.Now)
		speaker = &playback.NullDevice{}
	default:
		recorder = capture.NewPortAudioDevice(format, cfg.Audio.FramesPerBuffer)
		speaker = playback.NewPortAudioDevice(cfg.Audio.FramesPerBuffer)
	}

	oracle, resolver := newOracle(cfg.Permission, store)
	clk := clock.Real{}

	manager := session.New(session.Options{
		Driver:           capture.NewDriver(recorder, clk.Now),
		Allocator:        chunkfile.New(cfg.RecordingsDir),
		Store:            store,
		Oracle:           oracle,
		Clock:            clk,
		RotationInterval: cfg.RotationInterval,
	})
	player := playback.NewCoordinator(speaker, clk, cfg.PlaybackTick)
	cat := catalog.New(store, catalog.WithWatch(cfg.DBPath))
	svc := daemon.NewService(manager, player, cat, store, resolver, cfg.RotationInterval)

	return &daemonStack{
		cfg:     cfg,
		logger:  xlog.WithComponent("daemon"),
		store:   store,
		manager: manager,
		player:  player,
		catalog: cat,
		server:  daemon.NewServer(cfg.SocketPath, svc),
	}, nil
}

// newOracle maps the configured permission mode to an oracle. Only the
// prompting oracle can be answered by clients.
func newOracle(mode string, store *db.Store) (permission.Oracle, daemon.Resolver) {
	switch mode {
	case config.PermissionGranted:
		return permission.Static(permission.Granted), nil
	case config.PermissionDenied:
		return permission.Static(permission.Denied), nil
	default:
		p := permission.NewPrompt(store)
		return p, p
	}
}

func (d *daemonStack) run(ctx context.Context) error {
	ln, err := d.server.Listen()
	if err != nil {
		return err
	}

	d.logger.Info().
		Str(xlog.FieldPath, d.cfg.SocketPath).
		Str("db", d.cfg.DBPath).
		Str("backend", d.cfg.Audio.Backend).
		Str("permission", d.cfg.Permission).
		Msg("daemon starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.manager.Run(gctx) })
	g.Go(func() error { return d.catalog.Run(gctx) })
	g.Go(func() error { return d.server.Serve(gctx, ln) })
	if d.cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, d.cfg.MetricsAddr, d.logger) })
	}

	err = g.Wait()
	d.logger.Info().Err(err).Msg("daemon stopped")
	return err
}

func (d *daemonStack) close() {
	d.player.Close()
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("close store")
	}
}
