// Command vaultsync-agent runs the orchestrator: it discovers projects
// under the configured Object Store prefix, hydrates and watches each
// one's Local Mirror directory, and drives a periodic full
// reconciliation pass until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/objectstore"
	"github.com/vaultsync/vaultsync/internal/orchestrator"
	"github.com/vaultsync/vaultsync/internal/origin"
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

	var origAdapter *origin.Adapter
	if cfg.APIKey != "" {
		projects, err := origin.NewProjectMap(cfg.ProjectMapPath, cfg.ProjectMapDSN)
		if err != nil {
			log.Fatalf("origin: project map: %v", err)
		}
		origAdapter = origin.NewAdapter(cfg, projects)
	} else {
		log.Printf("no API_KEY configured; running without Origin integration (upload-to-origin and allowlist resolution disabled)")
	}

	orch := orchestrator.New(cfg, obj, origAdapter, nil)

	log.Printf("vaultsync-agent starting: root=%s bucket=%s poll=%s", cfg.ZDriveRoot, cfg.S3Bucket, cfg.PollInterval)
	if err := orch.Run(rootCtx); err != nil {
		log.Fatalf("orchestrator stopped: %v", err)
	}
	log.Printf("vaultsync-agent shutting down")
}
