package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"prefrontal/app/client/natsbus"
	"prefrontal/app/client/twitch"
	"prefrontal/app/client/twitch_irc"
	"prefrontal/app/config"
	"prefrontal/app/server"
	"prefrontal/app/service/archive"
	"prefrontal/app/service/conversation"
	"prefrontal/app/service/engine"
	"prefrontal/app/service/knowledge"
	"prefrontal/app/service/observer"
	"prefrontal/app/service/queue"
	"prefrontal/app/service/reply"
	"prefrontal/app/service/sender"
	"prefrontal/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	if cfg.Twitch.Enabled {
		do.Provide(di, twitch.NewClient)
		do.Provide(di, twitch_irc.NewClient)
	}
	do.Provide(di, natsbus.New)
	do.Provide(di, archive.New)
	do.Provide(di, observer.New)
	do.Provide(di, reply.NewGenerator)
	do.Provide(di, reply.NewChecker)
	do.Provide(di, knowledge.New)
	do.Provide(di, sender.New)
	do.Provide(di, conversation.New)
	do.Provide(di, queue.New)
	do.Provide(di, engine.New)
	do.Provide(di, server.New)

	engineSvc := do.MustInvoke[*engine.Service](di)
	httpServer := do.MustInvoke[*server.Server](di)

	group, groupCtx := errgroup.WithContext(appCtx)

	if cfg.Twitch.Enabled {
		twitchClient := do.MustInvoke[*twitch.Client](di)
		ircClient := do.MustInvoke[*twitch_irc.Client](di)

		group.Go(func() error {
			twitchClient.RunRefreshLoop(groupCtx)
			return nil
		})
		group.Go(func() error {
			ircClient.RunRefreshLoop(groupCtx)
			return nil
		})
		group.Go(func() error {
			return ircClient.Run(groupCtx)
		})
	}

	group.Go(func() error {
		engineSvc.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		return httpServer.Run(groupCtx)
	})

	slog.Info("Service started", "bot", cfg.Conversation.BotName)

	if err = group.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
	}

	log.Info("Shutting down...")
}
