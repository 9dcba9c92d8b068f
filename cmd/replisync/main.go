// Command replisync keeps record collections on independent SQLite
// replicas in sync.
package main

import (
	"context"
	"os"

	"github.com/roach88/replisync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
