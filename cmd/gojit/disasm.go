package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/arch/x86/x86asm"

	"github.com/gojit/gojit/internal/classfile"
	"github.com/gojit/gojit/internal/config"
	"github.com/gojit/gojit/internal/jit"
)

// newDisasmCmd compiles a method and prints its machine code as
// instruction-level x86 assembly, via golang.org/x/arch/x86/x86asm, the
// disassembler the pack's mewmew-x/zboralski-galago examples use for
// exactly this "decode a []byte of machine code" task.
func newDisasmCmd(v *viper.Viper) *cobra.Command {
	var methodName string
	cmd := &cobra.Command{
		Use:   "disasm <class-file> -method name",
		Short: "Compile one method and print its machine code disassembled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if methodName == "" {
				return fmt.Errorf("disasm: -method is required")
			}
			cfg := config.Resolve(v)

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			class, err := classfile.Parse(f)
			if err != nil {
				return fmt.Errorf("disasm: parse %s: %w", args[0], err)
			}
			var method *classfile.Method
			for _, m := range class.Methods {
				if m.Name == methodName {
					method = m
					break
				}
			}
			if method == nil {
				return fmt.Errorf("disasm: no method named %q in %s", methodName, args[0])
			}

			mgr := jit.NewManager(cfg.TextArenaPages)
			cu := jit.Get(method)
			if _, err := mgr.Compile(cu); err != nil {
				return fmt.Errorf("disasm: %w", err)
			}

			mode := 64
			if cfg.Arch == config.Arch386 {
				mode = 32
			}
			code := cu.Objcode
			for off := 0; off < len(code); {
				inst, err := x86asm.Decode(code[off:], mode)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%6d: <bad: %v>\n", off, err)
					off++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%6d: %s\n", off, x86asm.GNUSyntax(inst, uint64(off), nil))
				off += inst.Len
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&methodName, "method", "", "the method to disassemble")
	return cmd
}
