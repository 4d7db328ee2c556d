package main

import (
	"context"
	"fmt"
	"os"

	"github.com/danmuck/hsslink/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hssctl: %v\n", err)
		os.Exit(1)
	}
}
