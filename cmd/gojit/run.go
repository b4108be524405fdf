package main

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gojit/gojit/internal/classfile"
	"github.com/gojit/gojit/internal/config"
	"github.com/gojit/gojit/internal/jit"
)

// newRunCmd compiles a class's main(String[]) entry point and calls into
// it directly. This only supports the no-argument, no-return-value shape
// (spec.md's calling convention is the System V AMD64 ABI, which Go's
// own function-pointer call syntax happens to match for that shape);
// anything else needs a hand-written assembly shim this CLI doesn't
// carry, so run reports the published address instead of calling it.
func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <class-file>",
		Short: "Compile a class's main method and invoke it if its signature allows a direct call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Resolve(v)
			if cfg.Arch != config.ArchAMD64 {
				return fmt.Errorf("run: only amd64 supports direct invocation from this process")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			class, err := classfile.Parse(f)
			if err != nil {
				return fmt.Errorf("run: parse %s: %w", args[0], err)
			}
			var main *classfile.Method
			for _, m := range class.Methods {
				if m.Name == "main" {
					main = m
					break
				}
			}
			if main == nil {
				return fmt.Errorf("run: %s declares no main method", args[0])
			}

			mgr := jit.NewManager(cfg.TextArenaPages)
			cu := jit.Get(main)
			addr, err := mgr.Compile(cu)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if err := mgr.Arena.Seal(); err != nil {
				return fmt.Errorf("run: seal: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s compiled to %#x\n", main.FullName(), addr)
			if len(main.ArgTypes) != 0 || main.RetType != classfile.TVoid {
				fmt.Fprintf(cmd.OutOrStdout(), "run: %s is not a niladic void method, not invoking; use disasm to inspect it\n", main.FullName())
				return nil
			}

			entry := *(*func())(unsafe.Pointer(&addr))
			entry()
			return nil
		},
	}
	return cmd
}
