// Command worker consumes completion jobs from RabbitMQ. It is the same as
// `keystone worker`, for deployments that ship the worker on its own.
package main

import (
	"fmt"
	"os"

	"github.com/suPer8Hu/keystone/internal/cli"
)

func main() {
	if err := cli.NewWorkerCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
