package main

import (
	"os"

	"github.com/unkn0wn-root/memocas/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
