// Command ms is the CLI driver over the skill store core: argument
// parsing, workspace wiring, and output rendering live here; every
// subcommand calls straight into internal/appctx and the subsystems it
// wires.
package main

import (
	"os"

	"github.com/greenforestpath/meta-skill-sub001/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
