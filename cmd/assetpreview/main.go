// Command assetpreview generates thumbnails and metadata for asset files
// from the shell, using the in-memory host for tier-2 work.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
