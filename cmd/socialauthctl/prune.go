package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/metrics"
)

func newPruneCmd(a *app) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale nonces and expired associations",
		Long: `Delete nonces older than the skew window and associations past their
lifetime. With --every the command keeps running and prunes on an interval,
serving metrics on metrics.addr when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backends(cmd)
			if err != nil {
				return err
			}
			defer b.Close(context.Background())

			logger := socialauth.NewZerologLogger(a.log)
			sink := b.activitySink(a)
			nonces := socialauth.NewNonces(b.nonces,
				socialauth.WithNonceSkew(a.cfg.Nonces.Skew.Std()),
				socialauth.WithNoncesLogger(logger),
				socialauth.WithNoncesActivitySink(sink))
			associations := socialauth.NewAssociations(b.associations,
				socialauth.WithAssociationsLogger(logger),
				socialauth.WithAssociationsActivitySink(sink))

			if every <= 0 {
				return a.prune(ctx, cmd, b.metrics, nonces, associations)
			}

			g, gctx := errgroup.WithContext(ctx)
			if addr := a.cfg.Metrics.Addr; addr != "" {
				srv := &http.Server{Addr: addr, Handler: metrics.Handler(b.registry), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					a.log.Info().Str("addr", addr).Msg("serving metrics")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			g.Go(func() error {
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					if err := a.prune(gctx, cmd, b.metrics, nonces, associations); err != nil {
						a.log.Error().Err(err).Msg("prune failed")
						if socialauth.ClassOf(err) != socialauth.ClassInfrastructure {
							return err
						}
					}
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
			return g.Wait()
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "keep running and prune on this interval")
	return cmd
}

// prune runs both stores concurrently.
func (a *app) prune(ctx context.Context, cmd *cobra.Command, collector *metrics.Collector, nonces *socialauth.Nonces, associations *socialauth.Associations) error {
	var removedNonces, removedAssociations int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := nonces.Prune(gctx)
		removedNonces = n
		return err
	})
	g.Go(func() error {
		n, err := associations.Prune(gctx)
		removedAssociations = n
		return err
	})
	err := g.Wait()

	collector.ObservePrune("nonces", removedNonces)
	collector.ObservePrune("associations", removedAssociations)
	collector.ObserveOutcome(err)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	a.log.Info().
		Int64("nonces", removedNonces).
		Int64("associations", removedAssociations).
		Msg("pruned")
	fmt.Fprintf(cmd.OutOrStdout(), "nonces removed: %d\nassociations removed: %d\n", removedNonces, removedAssociations)
	return nil
}
