package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/pubengine/util"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const deliveryInterval = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  `Serve WebFinger, actors, inboxes and the local API. With federation.retryDeliveries the retry queue is worked in the background.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			logger := conf.Logger("main")
			logger.Info("Starting", "version", util.GetNameAndVersion(), "domain", conf.Conf.Domain, "storage", conf.Conf.Storage.Type)

			if err := os.MkdirAll(conf.Conf.Media.Dir, 0755); err != nil {
				return err
			}
			store, err := openStorage(conf)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Closing storage failed", "err", err)
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(conf, store)
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.server().Run(ctx)
			})
			if conf.Conf.Federation.RetryDeliveries {
				g.Go(func() error {
					a.deliveryWorker().Run(ctx)
					return nil
				})
			}

			err = g.Wait()
			logger.Info("Stopped")
			return err
		},
	}
}
