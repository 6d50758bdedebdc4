package vm

import (
	"bytes"
	"testing"
)

// runScenario assembles and runs src, returning the halting error (nil
// on normal End) and everything written to stdout.
func runScenario(t *testing.T, src string) (*VM, error, string) {
	t.Helper()
	prog := compileSource(t, src)
	var out bytes.Buffer
	v := New(prog, StackSize, &out)
	err := v.RunProgram()
	return v, err, out.String()
}

// S1 — Arithmetic and exit (spec.md §8).
func TestScenarioArithmeticAndExit(t *testing.T) {
	v, err, out := runScenario(t, "section code\nmov r0, 2\nadd r0, 40\nend\n")
	assert(t, err == nil, "want clean exit, got %v", err)
	assert(t, v.Registers()[R0] == 42, "want r0==42, got %d", v.Registers()[R0])
	assert(t, out == "", "want no output, got %q", out)
}

// S2 — PrintStr via data section (spec.md §8).
func TestScenarioPrintStrViaDataSection(t *testing.T) {
	src := "section data\nmsg: string \"hi\"\nsection code\nmov r0, msg\npstr r0\nend\n"
	_, err, out := runScenario(t, src)
	assert(t, err == nil, "want clean exit, got %v", err)
	assert(t, out == "hi", "want stdout %q, got %q", "hi", out)
}

// S3 — Loop with conditional jump (spec.md §8).
func TestScenarioLoopWithConditionalJump(t *testing.T) {
	src := "section code\nmov r1, 0\nloop:\ninc r1\ncmp r1, 3\ncjp loop\nmov r0, r1\nend\n"
	v, err, _ := runScenario(t, src)
	assert(t, err == nil, "want clean exit, got %v", err)
	assert(t, v.Registers()[R0] == 3, "want r0==3, got %d", v.Registers()[R0])
}

// S4 — Call/return (spec.md §8).
func TestScenarioCallReturn(t *testing.T) {
	src := "section code\nmov r0, 7\ncall sq\nend\nsq:\nmul r0\nret\n"
	v, err, _ := runScenario(t, src)
	assert(t, err == nil, "want clean exit, got %v", err)
	assert(t, v.Registers()[R0] == 49, "want r0==49, got %d", v.Registers()[R0])
}

// S5 — Malloc/Free (spec.md §8).
func TestScenarioMallocFree(t *testing.T) {
	src := "section code\nmov r1, 16\nmalloc r1\nmov [r0], 0xAA\nfree r0\nend\n"
	_, err, _ := runScenario(t, src)
	assert(t, err == nil, "want clean exit, got %v", err)
}

// S6 — Division error (spec.md §8).
func TestScenarioDivisionError(t *testing.T) {
	src := "section code\nmov r0, 10\nmov r1, 0\ndiv r1\n"
	_, err, _ := runScenario(t, src)
	assert(t, err == ErrDivideByZero, "want ErrDivideByZero, got %v", err)
}

func TestRegisterFileZeroedAtStart(t *testing.T) {
	v, _, _ := runScenario(t, "end\n")
	regs := v.Registers()
	for _, r := range []RegType{R0, R1, R2, R3, ZF, CF, SF, PF} {
		assert(t, regs[r] == 0, "want %s zeroed at start, got %d", r, regs[r])
	}
}

func TestDebugModeStepsThenHalts(t *testing.T) {
	prog := compileSource(t, "mov r0, 1\nend\n")
	var out bytes.Buffer
	v := New(prog, StackSize, &out)
	in := bytes.NewBufferString("n\nn\n")
	err := v.RunProgramDebugMode(in, &out)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Registers()[R0] == 1, "want r0==1 after stepping, got %d", v.Registers()[R0])
}
