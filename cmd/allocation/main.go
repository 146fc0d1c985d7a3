package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/allocation/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	log := application.Log
	application.StartCollectors(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Server.Run(gctx, application.Cfg.HTTPAddr)
	})
	if application.Consumer != nil {
		g.Go(func() error {
			return application.Consumer.Run(gctx)
		})
	}

	log.Info("allocation service started", "addr", application.Cfg.HTTPAddr, "consumer", application.Consumer != nil)
	if err := g.Wait(); err != nil {
		log.Error("allocation service stopped", "error", err)
		application.Close()
		os.Exit(1)
	}
	log.Info("allocation service stopped")
}
