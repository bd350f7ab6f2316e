package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"

	"github.com/go-bookloader/bookloader/pkg/adeptdrm"
	"github.com/go-bookloader/bookloader/pkg/config"
	"github.com/go-bookloader/bookloader/pkg/keystore"
	"github.com/go-bookloader/bookloader/pkg/version"
)

func main() {
	log := logger.New()
	log.Info("decrypt-container", logger.Data{"version": version.Version})

	var opts struct {
		Output string `short:"o" long:"output" description:"Output path for the decrypted container" required:"true"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}
	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/decrypt-container -o <output> <path/to/file.epub|.pdf>")
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

	privDER, err := store.PrivateKey()
	if err != nil {
		log.Err(err).Fatal("load private key error")
	}

	input := args[0]
	if strings.HasSuffix(strings.ToLower(input), ".pdf") {
		err = adeptdrm.DecryptPDF(input, opts.Output, privDER)
	} else {
		err = adeptdrm.DecryptEPUB(input, opts.Output, privDER)
	}
	if err != nil {
		log.Err(err).Fatal("decryption failed")
	}

	fmt.Printf("Decrypted: %s\n", opts.Output)
}
