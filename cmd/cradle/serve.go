package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thomasrockhu-codecov/cradle/internal/metrics"
	"github.com/thomasrockhu-codecov/cradle/internal/service"
	"github.com/thomasrockhu-codecov/cradle/internal/storage/s3"
	"github.com/thomasrockhu-codecov/cradle/pkg/api"
	"github.com/thomasrockhu-codecov/cradle/pkg/health"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache API until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("address", "", "address to listen on (overrides api.address)")
	cmd.Flags().String("health-bucket", "", "S3 bucket used by health checks")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}
	tracker := health.NewTracker(health.DefaultConfig())

	env, err := openEnvironment(cmd, service.WithMetrics(collector), service.WithHealth(tracker))
	if err != nil {
		return err
	}
	defer env.close()

	ctx := cmd.Context()
	source, err := s3.NewBlobSource(ctx, env.cfg.S3Config(), env.logger)
	if err != nil {
		return err
	}

	checks := map[string]health.CheckFunc{service.ComponentDisk: env.core.CheckDisk}
	if bucket := flagOrEnv(cmd, "health-bucket", "CRADLE_HEALTH_BUCKET", ""); bucket != "" {
		tracker.RegisterComponent("s3")
		tracker.SetDetail("s3", "bucket", bucket)
		checks["s3"] = func(ctx context.Context) error { return source.HealthCheck(ctx, bucket) }
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Address = flagOrEnv(cmd, "address", "CRADLE_API_ADDRESS", env.cfg.API.Address)
	serverCfg.EnableMetrics = env.cfg.API.EnableMetrics
	server := api.NewServer(serverCfg, env.core,
		api.WithCollector(collector),
		api.WithFetcher(source),
		api.WithLogger(env.logger),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tracker.StartHealthChecks(ctx, checks)
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(env.cfg.API.ShutdownTimeout))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func shutdownTimeout(configured time.Duration) time.Duration {
	if configured <= 0 {
		return 10 * time.Second
	}
	return configured
}
