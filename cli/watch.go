package cli

import (
	"context"
	"fmt"

	"wa-console/adminsync"
	"wa-console/backend"
	"wa-console/dashboard"
	"wa-console/push"
	"wa-console/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newAdminWatchCmd(a *app) *cobra.Command {
	var (
		listen string
		noPush bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the fleet view live and serve it on a local dashboard",
		Long: `Load the client list, refresh every client's status periodically, apply
push updates as they arrive and serve the fleet on a local HTTP dashboard
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.Dashboard.Listen
			}
			return a.report(a.watchFleet(cmd.Context(), listen, !noPush))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Dashboard listen address (default from config)")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "Do not open the push channel, rely on polling only")
	return cmd
}

func (a *app) watchFleet(parent context.Context, listen string, usePush bool) error {
	ctx, stop := signalContext(parent)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var opts []adminsync.Option
	if usePush {
		dispatcher := queue.NewDispatcher(256, a.registry)
		defer dispatcher.Stop()
		ch, err := push.Dial(ctx, a.client.BaseURL(),
			push.WithToken(a.cfg.Backend.Token),
			push.WithLogger(a.logger),
			push.WithDispatcher(dispatcher),
		)
		if err != nil {
			a.logger.Warn().Err(err).Msg("push channel unavailable, polling only")
		} else {
			defer ch.Close()
			opts = append(opts, adminsync.WithPushSource(ch.Subscribe))
			g.Go(func() error {
				if err := ch.Run(gctx); err != nil {
					a.logger.Warn().Err(err).Msg("push channel dropped, polling continues")
				}
				return nil
			})
		}
	}

	fleet := a.fleet(opts...)
	if err := fleet.Start(gctx); err != nil {
		fmt.Fprintln(a.out, backend.UserMessage(err))
	}

	router := dashboard.NewRouter(fleet,
		dashboard.WithGatherer(prometheus.Gatherers{a.registry, prometheus.DefaultGatherer}),
		dashboard.WithStats(a.stats),
		dashboard.WithLogger(a.logger),
	)
	g.Go(func() error {
		return dashboard.Serve(gctx, listen, router, a.logger)
	})
	fmt.Fprintf(a.out, "Dashboard on http://%s\n", listen)

	err := g.Wait()
	fleet.Close()
	return err
}
