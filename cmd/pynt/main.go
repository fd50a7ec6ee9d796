package main

import (
	"os"

	"github.com/PatchLens/go-pynt/embed/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
