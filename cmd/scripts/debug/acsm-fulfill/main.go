package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"

	"github.com/go-bookloader/bookloader/pkg/config"
	"github.com/go-bookloader/bookloader/pkg/fulfillment"
	"github.com/go-bookloader/bookloader/pkg/keystore"
	"github.com/go-bookloader/bookloader/pkg/version"
)

func main() {
	log := logger.New()
	log.Info("acsm-fulfill", logger.Data{"version": version.Version})

	var opts struct {
		OutputDir string `short:"o" long:"output-dir" description:"Directory to download the fulfilled container into" required:"true"`
		Notify    bool   `long:"notify" description:"Send the best-effort post-download notification"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}
	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/acsm-fulfill -o <output-dir> <path/to/file.acsm>")
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	store, err := keystore.Open(cfg.AuthDir)
	if err != nil {
		log.Err(err).Fatal("open keystore error")
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	engine := fulfillment.NewEngine(store, client, cfg.ACSMMaxRetries, cfg.ACSMRetryBaseDelay)

	ctx := context.Background()
	outPath, err := engine.Fulfill(ctx, args[0], opts.OutputDir)
	if err != nil {
		log.Err(err).Fatal("fulfillment failed")
	}

	if opts.Notify {
		doc, err := fulfillment.ParseACSM(args[0])
		if err == nil {
			if err := engine.Notify(ctx, doc); err != nil {
				log.Err(err).Warn("notify failed (ignored)")
			}
		}
	}

	fmt.Printf("Downloaded: %s\n", outPath)
}
