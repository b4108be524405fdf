// Command gojit is the JIT's command-line front end: compile a class
// file's methods ahead of time for inspection, disassemble the result,
// or run a class's main method through the lazy-compilation pipeline.
// Grounded on the teacher's std/compiler/main.go entry point, rebuilt
// around cobra/viper (internal/config) in place of its hand-rolled
// os.Args loop, matching the rest of the pack's CLI convention.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gojit/gojit/internal/config"
	"github.com/gojit/gojit/internal/jlog"
)

func main() {
	root := &cobra.Command{
		Use:   "gojit",
		Short: "A method-at-a-time JIT compiler for JVM-style class files",
	}

	v := config.BindFlags(root.PersistentFlags())
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg := config.Resolve(v)
		jlog.SetDebug(cfg.Debug)
	}

	root.AddCommand(newCompileCmd(v), newDisasmCmd(v), newRunCmd(v))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
