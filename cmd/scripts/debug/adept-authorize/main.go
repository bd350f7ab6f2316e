package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"

	"github.com/go-bookloader/bookloader/pkg/adept"
	"github.com/go-bookloader/bookloader/pkg/config"
	"github.com/go-bookloader/bookloader/pkg/keystore"
	"github.com/go-bookloader/bookloader/pkg/version"
)

func main() {
	log := logger.New()
	log.Info("adept-authorize", logger.Data{"version": version.Version})

	var opts struct {
		FulfillURL string `short:"u" long:"fulfill-url" description:"Adobe Content Server base URL" required:"true"`
		Email      string `short:"e" long:"email" description:"Adobe ID email (omit for anonymous authorization)"`
		Password   string `short:"p" long:"password" description:"Adobe ID password"`
		Reset      bool   `long:"reset" description:"Reset the authorization directory before authorizing"`
	}

	if _, err := flags.Parse(&opts); err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	store, err := keystore.Open(cfg.AuthDir)
	if err != nil {
		log.Err(err).Fatal("open keystore error")
	}

	if opts.Reset {
		if err := store.Reset(); err != nil {
			log.Err(err).Fatal("reset keystore error")
		}
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	session := adept.NewSession(store, client, opts.FulfillURL)

	ctx := context.Background()
	if opts.Email != "" {
		err = session.AuthorizeAdobeID(ctx, opts.Email, opts.Password)
	} else {
		err = session.AuthorizeAnonymous(ctx)
	}
	if err != nil {
		log.Err(err).Fatal("authorization failed")
	}

	fmt.Printf("Authorized. Auth type: %s\n", store.AuthType())
}
