// Command vaultsync-webhook runs the HTTP receiver for Origin's webhook
// deliveries and the live status feed, propagating document
// create/update/delete events into the Object Store.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/orchestrator"
	"github.com/vaultsync/vaultsync/internal/origin"
	"github.com/vaultsync/vaultsync/internal/statusapi"
	"github.com/vaultsync/vaultsync/internal/webhook"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obj, err := objectstore.NewAdapter(rootCtx, cfg)
	if err != nil {
		log.Fatalf("objectstore: %v", err)
	}

	projects, err := origin.NewProjectMap(cfg.ProjectMapPath, cfg.ProjectMapDSN)
	if err != nil {
		log.Fatalf("origin: project map: %v", err)
	}
	origAdapter := origin.NewAdapter(cfg, projects)

	feed := statusapi.NewFeed(500)
	orch := orchestrator.New(cfg, obj, origAdapter, feed)
	router := webhook.New(cfg, origAdapter, obj, orch)
	server := statusapi.NewServer(router, feed, statusapi.ServerConfig{})

	log.Printf("vaultsync-webhook listening on %s (status on %s)", cfg.WebhookAddr, cfg.StatusAddr)

	errCh := make(chan error, 2)
	go func() {
		errCh <- http.ListenAndServe(cfg.WebhookAddr, server)
	}()
	if cfg.StatusAddr != "" && cfg.StatusAddr != cfg.WebhookAddr {
		go func() {
			errCh <- http.ListenAndServe(cfg.StatusAddr, server)
		}()
	}

	select {
	case <-rootCtx.Done():
		log.Printf("vaultsync-webhook shutting down")
	case err := <-errCh:
		log.Fatalf("server failed: %v", err)
	}
}
