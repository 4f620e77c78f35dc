package main

import (
	"os"

	"dynmount/internal/logging"

	"github.com/spf13/afero"
)

var (
	logger = logging.GetLogger()
)

func main() {
	a := &app{fs: afero.NewOsFs()}
	if err := newRootCmd(a).Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
