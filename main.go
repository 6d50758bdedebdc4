package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"alvm/internal/diag"
	"alvm/internal/lexer"
	"alvm/vm"
)

func main() {
	os.Exit(run())
}

// run builds and executes the cobra command tree, returning the
// process exit code spec.md §5 assigns: 0 success, 2 assembler error,
// 3 runtime fault.
func run() int {
	var stackSize uint32
	var dump bool

	rootCmd := &cobra.Command{
		Use:   "alvm [file]",
		Short: "ALVM — assemble and run register-machine programs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0], stackSize, os.Stdout)
		},
	}
	rootCmd.PersistentFlags().Uint32Var(&stackSize, "stack-size", vm.StackSize, "stack reservation in bytes")

	runCmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Assemble and execute a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0], stackSize, os.Stdout)
		},
	}

	asmCmd := &cobra.Command{
		Use:   "asm <file>",
		Short: "Assemble a program and print its instruction listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return asmFile(args[0], dump, os.Stdout)
		},
	}
	asmCmd.Flags().BoolVar(&dump, "dump", false, "also print the data blob as hex")

	debugCmd := &cobra.Command{
		Use:   "debug <file>",
		Short: "Assemble and run a program under the interactive stepper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return debugFile(args[0], stackSize, os.Stdin, os.Stdout)
		},
	}

	rootCmd.AddCommand(runCmd, asmCmd, debugCmd)

	exitCode := 0
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitCode = exitCodeFor(err)
	}
	return exitCode
}

// exitCodeFor maps a failure to the CLI contract's exit code: a
// *diag.Error is always an assembler-stage failure (2); any other
// error (a runtime fault from RunProgram, but also an unreadable source
// file or a bad command line) maps to 3.
func exitCodeFor(err error) int {
	var derr *diag.Error
	if errors.As(err, &derr) {
		return 2
	}
	return 3
}

func assembleFile(path string) (vm.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return vm.Program{}, err
	}
	tokens, err := lexer.Lex(string(source))
	if err != nil {
		return vm.Program{}, err
	}
	return vm.Compile(tokens, vm.WithDebugSymbols())
}

func runFile(path string, stackSize uint32, out *os.File) error {
	prog, err := assembleFile(path)
	if err != nil {
		return err
	}
	machine := vm.New(prog, stackSize, out)
	return machine.RunProgram()
}

func debugFile(path string, stackSize uint32, in, out *os.File) error {
	prog, err := assembleFile(path)
	if err != nil {
		return err
	}
	machine := vm.New(prog, stackSize, out)
	return machine.RunProgramDebugMode(in, out)
}

func asmFile(path string, dump bool, out *os.File) error {
	prog, err := assembleFile(path)
	if err != nil {
		return err
	}
	for i, instr := range prog.Instructions {
		fmt.Fprintf(out, "%4d: %s\n", i, instr.String())
	}
	if dump {
		fmt.Fprintf(out, "data: % x\n", prog.Data)
	} else {
		fmt.Fprintf(out, "data: %d bytes\n", len(prog.Data))
	}
	return nil
}
