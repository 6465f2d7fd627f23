package main

import (
	"os"

	"wa-console/cli"
)

func main() {
	os.Exit(cli.Execute())
}
