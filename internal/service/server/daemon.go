package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/tuya-alarm/internal/api/grpc/panel"
	"github.com/oshokin/tuya-alarm/internal/config"
	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/logger"
	"github.com/oshokin/tuya-alarm/internal/mqtt"
	"github.com/oshokin/tuya-alarm/internal/repository/history"
	"github.com/oshokin/tuya-alarm/internal/service/poller"
	"github.com/oshokin/tuya-alarm/internal/service/verifier"
	"github.com/oshokin/tuya-alarm/internal/store"
)

// gracefulStopTimeout bounds how long open Watch streams may delay shutdown.
const gracefulStopTimeout = 5 * time.Second

// Cloud is everything the daemon needs from the cloud client.
type Cloud interface {
	poller.Fetcher
	verifier.Cloud
}

// daemon owns the components serving one device.
type daemon struct {
	settings *config.Config

	store     *store.Store
	scheduler *poller.Scheduler
	verifier  *verifier.Verifier
	history   *history.BoltRepository
	bridge    *mqtt.Bridge

	grpcServer *grpc.Server
	health     *health.Server

	stopHealth context.CancelFunc
	wg         sync.WaitGroup
}

// newDaemon assembles the components; nothing runs until serve.
func newDaemon(settings *config.Config, cloud Cloud) (*daemon, error) {
	repo, err := history.Open(settings.HistoryFile, 0)
	if err != nil {
		return nil, err
	}

	st := store.New(settings.DeviceID, store.WithKnownDataPoints(alarm.KnownDataPoints))
	scheduler := poller.New(settings.DeviceID, cloud, st)

	v := verifier.New(settings.DeviceID, cloud, scheduler, st, repo, verifier.Config{
		Interval:    settings.Verify.Interval,
		MaxAttempts: settings.Verify.MaxAttempts,
		Timeout:     settings.Verify.Timeout,
	})

	d := &daemon{
		settings:   settings,
		store:      st,
		scheduler:  scheduler,
		verifier:   v,
		history:    repo,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		stopHealth: func() {},
	}

	panel.RegisterPanelServiceServer(d.grpcServer, panel.NewServer(v, st, repo))
	healthpb.RegisterHealthServer(d.grpcServer, d.health)

	return d, nil
}

// serve runs until ctx is canceled, then tears everything down.
// ready, if not nil, receives the bound listen address once the API accepts connections.
func (d *daemon) serve(ctx context.Context, ready chan<- net.Addr) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", d.settings.ListenAddress)
	if err != nil {
		d.shutdown(ctx)

		return fmt.Errorf("listen on %s: %w", d.settings.ListenAddress, err)
	}

	if err := d.scheduler.Start(ctx, d.settings.PollInterval); err != nil {
		d.shutdown(ctx)

		return fmt.Errorf("start polling: %w", err)
	}

	if d.settings.MQTT.Enabled {
		bridge, err := mqtt.Connect(ctx, d.settings.MQTT, d.settings.DeviceID, d.store, d.verifier)
		if err != nil {
			// The panel API keeps working without the bridge.
			logger.ErrorKV(ctx, "MQTT bridge disabled", "broker", d.settings.MQTT.Broker, "error", err)
		} else {
			d.bridge = bridge
			bridge.Start()
		}
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	d.stopHealth = stopHealth

	d.wg.Go(func() { d.trackHealth(healthCtx) })

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- d.grpcServer.Serve(lis)
	}()

	logger.InfoKV(ctx, "Panel API listening",
		"listen_address", lis.Addr().String(),
		"history_file", d.settings.HistoryFile,
		"poll_interval", d.settings.PollInterval.String())

	if ready != nil {
		ready <- lis.Addr()
	}

	select {
	case <-ctx.Done():
		d.shutdown(ctx)
		<-serveErr

		return nil
	case err := <-serveErr:
		d.shutdown(ctx)

		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		return nil
	}
}

// trackHealth reports NOT_SERVING for the panel while the device is unavailable.
func (d *daemon) trackHealth(ctx context.Context) {
	updates, unsubscribe := d.store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-updates:
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if snapshot.Available {
				status = healthpb.HealthCheckResponse_SERVING
			}

			d.health.SetServingStatus(panel.ServiceName, status)
		}
	}
}

// shutdown stops accepting work first, then ends the running verification so
// it resumes the poller, then stops polling and closes the history.
func (d *daemon) shutdown(ctx context.Context) {
	logger.Info(ctx, "Shutting down")

	d.health.Shutdown()
	d.verifier.Close()

	if d.bridge != nil {
		d.bridge.Stop()
	}

	stopped := make(chan struct{})

	go func() {
		d.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(gracefulStopTimeout):
		logger.Warn(ctx, "Graceful stop timed out, closing open streams")
		d.grpcServer.Stop()
		<-stopped
	}

	if err := d.scheduler.Stop(); err != nil {
		logger.WarnKV(ctx, "Stopping poller", "error", err)
	}

	d.stopHealth()
	d.wg.Wait()

	if err := d.history.Close(); err != nil {
		logger.WarnKV(ctx, "Closing history", "error", err)
	}

	logger.Info(ctx, "Daemon stopped")
}
