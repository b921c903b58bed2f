package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"doerline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var tokenTTL, autoApproveEvery, autoApproveWindow time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the event relay and the auto-approve sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DOERLINE_JWT_SECRET is required for bearer auth")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			hub, err := a.Hub()
			if err != nil {
				return err
			}
			rl, err := a.Relay(hub)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Hub:      hub,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, TokenTTL: tokenTTL},
				Logger:   a.Logger.Named("http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return rl.Run(ctx) })
			if autoApproveEvery > 0 {
				g.Go(func() error {
					ticker := time.NewTicker(autoApproveEvery)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return nil
						case <-ticker.C:
							done, err := a.Engine.AutoApproveDue(ctx, a.System, autoApproveWindow)
							if err != nil {
								a.Logger.Warn("auto-approve sweep", zap.Error(err))
								continue
							}
							if len(done) > 0 {
								a.Logger.Info("auto-approved deliveries", zap.Int("count", len(done)))
							}
						}
					}
				})
			}
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				a.Logger.Info("serving doerline api",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.Int("relay_sinks", len(rl.Sinks)))
				fmt.Printf("Serving Doerline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HMAC secret for bearer tokens (or DOERLINE_JWT_SECRET)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 12*time.Hour, "bearer token lifetime")
	cmd.Flags().DurationVar(&autoApproveEvery, "auto-approve-every", 15*time.Minute, "how often to sweep deliveries (0 disables)")
	cmd.Flags().DurationVar(&autoApproveWindow, "auto-approve-window", 72*time.Hour, "how long a delivery may wait for the client")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
