package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"

	"github.com/go-bookloader/bookloader/pkg/kobodrm"
	"github.com/go-bookloader/bookloader/pkg/kobolibrary"
	"github.com/go-bookloader/bookloader/pkg/version"
)

func main() {
	log := logger.New()
	log.Info("kobo-decrypt", logger.Data{"version": version.Version})

	var opts struct {
		KoboDir   string `short:"k" long:"kobo-dir" description:"Path to the Kobo Desktop Edition directory" required:"true"`
		OutputDir string `short:"o" long:"output-dir" description:"Directory to write decrypted EPUBs into" required:"true"`
	}

	if _, err := flags.Parse(&opts); err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		log.Err(err).Fatal("create output dir error")
	}

	lib, err := kobolibrary.Open(opts.KoboDir)
	if err != nil {
		log.Err(err).Fatal("open kobo library error")
	}
	defer lib.Close()

	macs, err := kobodrm.MACAddresses()
	if err != nil {
		log.Err(err).Fatal("enumerate MAC addresses error")
	}

	userIDs, err := lib.UserIDs()
	if err != nil {
		log.Err(err).Fatal("read user ids error")
	}

	candidateKeys := kobodrm.CandidateKeys(macs, userIDs)
	log.Info(fmt.Sprintf("derived %d candidate keys from %d macs and %d users", len(candidateKeys), len(macs), len(userIDs)))

	books, err := lib.Books()
	if err != nil {
		log.Err(err).Fatal("list books error")
	}

	var failed int
	for _, book := range books {
		dst := filepath.Join(opts.OutputDir, book.Title+".epub")
		if err := kobodrm.DecryptBook(book, candidateKeys, dst); err != nil {
			log.Err(err).Warn(fmt.Sprintf("failed to decrypt %q", book.Title))
			failed++
			continue
		}
		fmt.Printf("Decrypted: %s -> %s\n", book.Title, dst)
	}

	if failed > 0 {
		fmt.Printf("%d/%d books failed\n", failed, len(books))
		os.Exit(1)
	}
}
