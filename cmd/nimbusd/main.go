// Command nimbusd is the resident process hosting the catalog, store,
// event pipeline, and TCP listener for one runtime node. It is the
// executable Config.ResidentListener points at, auto-spawned by a remote
// Messenger when a loopback destination refuses a connection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	nimbus "github.com/everydev1618/nimbus"
	"github.com/everydev1618/nimbus/internal/catalog"
	"github.com/everydev1618/nimbus/internal/events"
	"github.com/everydev1618/nimbus/internal/router"
	"github.com/everydev1618/nimbus/internal/store"
	"github.com/everydev1618/nimbus/internal/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("nimbusd: fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := nimbus.LoadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DBPath, 0o755); err != nil {
		return err
	}

	// Opening the backing store file is the one failure mode the
	// error-handling design treats as fatal rather than recoverable.
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	messenger := transport.NewMessenger(cfg.ResidentListener)
	cat := catalog.New(st, func(addr nimbus.Address, mail nimbus.Mail) error {
		return messenger.Send(addr, mail)
	})

	rtr := router.New(cat)
	defer rtr.Shutdown()

	dbEvents := make(chan events.DBEvent, 64)
	publisher := events.NewPublisher(dbEvents)
	st.SetNotify(publisher.Notify)

	buffer := events.NewEventBuffer(store.BufferMaxSize, store.EventMaxAge)
	tracker := events.NewEventTracker(buffer, st, rtr)
	subscriber := events.NewSubscriber(dbEvents, tracker, st)
	if err := subscriber.Start(); err != nil {
		return err
	}
	defer subscriber.Stop()

	listener := transport.NewListener(cfg.ListenAddr, cat)
	errCh := make(chan error, 1)
	go func() {
		errCh <- listener.Run()
	}()
	defer listener.Close()

	slog.Info("nimbusd: started", "listen_addr", cfg.ListenAddr, "db_path", cfg.StorePath())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		slog.Info("nimbusd: shutting down on signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return nil
}
