package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
)

// VM is one runnable instance of an assembled Program: its register
// file, its memory image, the instruction sequence, and the I/O
// streams PrintInt/PrintStr write to. Grounded on the teacher's VM
// struct (vm.go), generalized from a stack machine to spec.md's
// register machine and stripped of the device/interrupt table that
// has no equivalent in this instruction set.
type VM struct {
	regs     registerFile
	mem      *Memory
	program  []Instruction
	pc       uint32
	halted   bool
	out      io.Writer
	debugSym map[int]string
}

// New builds a VM ready to execute prog. stackSize is the number of
// bytes reserved above the data blob (spec.md §6's STACK_SIZE, default
// StackSize).
func New(prog Program, stackSize uint32, out io.Writer) *VM {
	mem := NewMemory(prog.Data, stackSize)
	v := &VM{
		program:  prog.Instructions,
		mem:      mem,
		out:      out,
		debugSym: prog.DebugSym,
	}
	v.regs[DS] = 0
	if len(prog.Data) > 0 {
		v.regs[SS] = uint32(len(prog.Data)) - 1
	} else {
		v.regs[SS] = 0
	}
	v.regs[CS] = 0
	v.regs[SP] = mem.Len()
	return v
}

// Registers exposes a read-only snapshot of the register file, for
// tests and the debug-mode state printer.
func (vm *VM) Registers() registerFile {
	return vm.regs
}

// PC is the current program counter (instruction index).
func (vm *VM) PC() uint32 {
	return vm.pc
}

func (vm *VM) printInt(v uint32) {
	fmt.Fprintf(vm.out, "%d", v)
}

func (vm *VM) printStr(s string) {
	fmt.Fprint(vm.out, s)
}

// RunProgram drives the fetch-decode-execute loop to completion.
// Returns nil once an End instruction halts the machine normally, or
// the runtime fault (spec.md §4.4/§7) that stopped it early.
//
// The garbage collector is disabled for the duration of the run and
// restored on return, mirroring the teacher's run.go: the memory image
// is allocated up front, so the only allocations on the hot path are
// Malloc calls the program itself makes.
func (vm *VM) RunProgram() error {
	gcPercent := currentGCPercent()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	for !vm.halted {
		if err := vm.step(); err != nil {
			return err
		}
	}
	return nil
}

func currentGCPercent() int {
	if v, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 100
}

// RunProgramDebugMode is an interactive single-stepper: n/next
// executes one instruction, r/run free-runs (honoring breakpoints),
// b <addr> toggles a breakpoint, and program lists the disassembly.
// Adapted from the teacher's RunProgramDebugMode for the register
// machine's state printer.
func (vm *VM) RunProgramDebugMode(in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb <addr>: toggle breakpoint\n\tprogram: list instructions\n\n")
	vm.printState(out)

	reader := bufio.NewReader(in)
	waitForInput := true
	breakpoints := make(map[uint32]struct{})
	lastBreak := uint32(0xFFFFFFFF)

	for !vm.halted {
		line := ""
		if waitForInput {
			fmt.Fprint(out, "\n-> ")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else if _, ok := breakpoints[vm.pc]; ok && lastBreak != vm.pc {
			fmt.Fprintln(out, "breakpoint")
			vm.printState(out)
			waitForInput = true
			lastBreak = vm.pc
			continue
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreak = 0xFFFFFFFF
			if err := vm.step(); err != nil {
				fmt.Fprintln(out, err)
				return err
			}
			if waitForInput {
				vm.printState(out)
			}
		case line == "program":
			vm.printProgram(out)
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			fields := strings.Fields(line)
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: b <addr>")
				continue
			}
			addr, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				fmt.Fprintln(out, "bad address:", err)
				continue
			}
			if _, ok := breakpoints[uint32(addr)]; ok {
				delete(breakpoints, uint32(addr))
			} else {
				breakpoints[uint32(addr)] = struct{}{}
			}
		}
	}
	return nil
}

func (vm *VM) printState(out io.Writer) {
	fmt.Fprintf(out, "pc=%d %s\n", vm.pc, vm.regs.String())
	if int(vm.pc) < len(vm.program) {
		fmt.Fprintf(out, "next: %s\n", vm.describeInstruction(vm.pc))
	}
}

func (vm *VM) printProgram(out io.Writer) {
	for i := range vm.program {
		marker := "  "
		if uint32(i) == vm.pc {
			marker = "->"
		}
		fmt.Fprintf(out, "%s %4d: %s\n", marker, i, vm.describeInstruction(uint32(i)))
	}
}

func (vm *VM) describeInstruction(pc uint32) string {
	if vm.debugSym != nil {
		if src, ok := vm.debugSym[int(pc)]; ok {
			return src
		}
	}
	return vm.program[pc].String()
}
