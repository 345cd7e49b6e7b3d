// Command bendo runs the SWORDv2 deposit finalization service: it serves
// the ingress front (C8) over HTTP and drives the background finalization
// worker (C7) that reassembles, extracts, validates, versions, and
// promotes each deposit in turn.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws/session"
	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/sworddeposit/config"
	"github.com/ndlib/sworddeposit/depositprops"
	"github.com/ndlib/sworddeposit/finalize"
	"github.com/ndlib/sworddeposit/fixity"
	"github.com/ndlib/sworddeposit/frontend"
	"github.com/ndlib/sworddeposit/store"
	"github.com/ndlib/sworddeposit/versioning"
)

func main() {
	var configPath = flag.String("c", "bendo.properties", "path to the startup properties file")
	flag.Parse()

	cfg, err := config.LoadStartup(*configPath)
	if err != nil {
		log.Fatalf("loading %s: %s", *configPath, err)
	}

	props := depositprops.New(cfg.TempDir, cfg.DepositsRoot)

	ledger, err := newLedger(cfg)
	if err != nil {
		log.Fatalf("opening fixity ledger: %s", err)
	}
	defer ledger.Close()

	var mirror store.Store
	if cfg.MirrorS3Bucket != "" {
		sess, err := session.NewSession()
		if err != nil {
			log.Fatalf("opening AWS session for mirror.s3-bucket: %s", err)
		}
		mirror = store.NewS3(cfg.MirrorS3Bucket, cfg.MirrorS3Prefix, sess)
	}

	versioner := newVersioner(cfg)

	queue := finalize.NewQueue(cfg.QueueCapacity)
	worker := &finalize.Worker{
		Queue:     queue,
		Props:     props,
		Versioner: versioner,
		Ledger:    ledger,
		Mirror:    mirror,
	}

	if cfg.FixityRateBytesPerSec > 0 {
		checker := fixity.NewChecker(ledger, props.StorageDir, cfg.FixityRateBytesPerSec, 2)
		checker.Start()
		defer checker.Stop()
	}

	svc := &frontend.Service{
		Addr: ":14000",
		Ingress: &frontend.Ingress{
			Props:   props,
			Queue:   queue,
			BaseURL: cfg.BaseURL,
		},
		Worker: worker,
	}

	go waitForShutdown(svc)

	if err := svc.Run(); err != nil {
		raven.CaptureError(err, nil)
		log.Fatalf("service exited: %s", err)
	}
}

// waitForShutdown stops svc cleanly on SIGTERM/SIGINT, draining the
// finalization worker before the process exits (spec.md §5).
func waitForShutdown(svc *frontend.Service) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig
	log.Println("shutting down")
	if err := svc.Stop(); err != nil {
		log.Printf("shutdown: %s", err)
	}
}

func newVersioner(cfg *config.Startup) versioning.Versioner {
	if !cfg.GitEnabled {
		return versioning.Disabled{}
	}
	return versioning.New(cfg.GitUser, cfg.GitEmail)
}

func newLedger(cfg *config.Startup) (fixity.Ledger, error) {
	if cfg.FixityMySQL != "" {
		return fixity.NewMySQL(cfg.FixityMySQL)
	}
	path := "memory"
	if cfg.TempDir != "" {
		path = cfg.TempDir + "/fixity.ql"
	}
	return fixity.NewQL(path)
}
