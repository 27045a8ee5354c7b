package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/mirror-go/internal/config"

	// Compiled-in backend adapters; each registers its kind at init.
	_ "github.com/tonimelisma/mirror-go/internal/remote/localdir"
	_ "github.com/tonimelisma/mirror-go/internal/remote/s3"
	_ "github.com/tonimelisma/mirror-go/internal/remote/sftp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		switch {
		case errors.Is(err, config.ErrInvalid):
			os.Exit(exitUsage)
		case errors.Is(err, errStartup):
			os.Exit(exitStartup)
		default:
			os.Exit(1)
		}
	}
}
