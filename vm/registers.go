package vm

import "fmt"

/*
	Register file layout — the register-based half of the hybrid design
	this VM inherits from the teacher bytecode (which is stack-based,
	not register-based; this module's opcode set and register file are
	rebuilt against the spec rather than carried over unchanged):

		general purpose  R0, R1, R2, R3   (R0 is result/accumulator)
		stack/segment    SP, DS, SS, CS
		flags            ZF, CF, SF, PF   (each holds 0 or 1)
		sentinel         NUL              ("no register" in an operand slot)

	SP grows downward. DS is the base of the memory image (offset 0).
	SS is the last byte of the data blob — the stack lives in the bytes
	above it. CS is informational: the instruction stream's base index,
	set once at startup and otherwise unused by indirect addressing
	(jump/call targets are instruction indices, not byte offsets).
*/

// RegType indexes the register file.
type RegType int

const (
	R0 RegType = iota
	R1
	R2
	R3

	SP
	DS
	SS
	CS

	ZF
	CF
	SF
	PF

	NUL
)

var regNames = map[RegType]string{
	R0: "r0", R1: "r1", R2: "r2", R3: "r3",
	SP: "sp", DS: "ds", SS: "ss", CS: "cs",
	ZF: "zf", CF: "cf", SF: "sf", PF: "pf",
	NUL: "nul",
}

var namesToReg map[string]RegType

func init() {
	namesToReg = make(map[string]RegType, len(regNames))
	for r, s := range regNames {
		namesToReg[s] = r
	}
}

func (r RegType) String() string {
	if s, ok := regNames[r]; ok {
		return s
	}
	return "?unknown-register?"
}

// LookupRegister resolves a bare register name (as it appears in
// source, e.g. "r0", "sp") to its RegType. ok is false for anything
// else, including identifiers that merely look like register names.
func LookupRegister(name string) (RegType, bool) {
	r, ok := namesToReg[name]
	return r, ok
}

// writable reports whether source code is allowed to target this
// register directly as a Mov/Add/Sub/Inc/Dec destination. Flags and
// NUL are written only by the engine itself as a side effect of other
// instructions.
func (r RegType) writable() bool {
	return r == R0 || r == R1 || r == R2 || r == R3 ||
		r == SP || r == DS || r == SS || r == CS
}

// registerFile is the fixed table of named 32-bit registers.
type registerFile [NUL + 1]uint32

func (f *registerFile) String() string {
	return fmt.Sprintf(
		"{r0:%d r1:%d r2:%d r3:%d sp:%d ds:%d ss:%d cs:%d zf:%d cf:%d sf:%d pf:%d}",
		f[R0], f[R1], f[R2], f[R3], f[SP], f[DS], f[SS], f[CS], f[ZF], f[CF], f[SF], f[PF],
	)
}
