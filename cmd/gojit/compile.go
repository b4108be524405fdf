package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gojit/gojit/internal/classfile"
	"github.com/gojit/gojit/internal/config"
	"github.com/gojit/gojit/internal/jit"
)

func newCompileCmd(v *viper.Viper) *cobra.Command {
	var methodName string
	cmd := &cobra.Command{
		Use:   "compile <class-file> [-method name]",
		Short: "Compile one or every method in a class file and report publication addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Resolve(v)
			if cfg.Arch != config.ArchAMD64 {
				return fmt.Errorf("compile: %s codegen not wired into the cmd yet, use amd64", cfg.Arch)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			class, err := classfile.Parse(f)
			if err != nil {
				return fmt.Errorf("compile: parse %s: %w", args[0], err)
			}

			mgr := jit.NewManager(cfg.TextArenaPages)
			var cus []*jit.CU
			for _, m := range class.Methods {
				if methodName != "" && m.Name != methodName {
					continue
				}
				cus = append(cus, jit.Get(m))
			}
			if len(cus) == 0 {
				return fmt.Errorf("compile: no matching method in %s", args[0])
			}
			if err := mgr.CompileAll(cus); err != nil {
				return fmt.Errorf("compile: %w", err)
			}
			if err := mgr.Arena.Seal(); err != nil {
				return fmt.Errorf("compile: seal: %w", err)
			}

			for _, cu := range cus {
				addr, _ := mgr.AddrOf(cu.Method.FullName())
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %#x (%d bytes)\n", cu.Method.FullName(), addr, len(cu.Objcode))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&methodName, "method", "", "compile only the named method")
	return cmd
}
