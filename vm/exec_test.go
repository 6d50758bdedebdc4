package vm

import "testing"

func newRunVM(t *testing.T, src string) *VM {
	t.Helper()
	prog := compileSource(t, src)
	return New(prog, StackSize, &discard{})
}

type discard struct{}

func (d *discard) Write(p []byte) (int, error) { return len(p), nil }

func TestInitialRegisterState(t *testing.T) {
	v := newRunVM(t, "end\n")
	regs := v.Registers()
	assert(t, regs[R0] == 0, "want R0 zeroed at start")
	assert(t, regs[SP] == v.mem.Len(), "want SP at top of image, got %d want %d", regs[SP], v.mem.Len())
}

func TestPushPopRoundTrip(t *testing.T) {
	v := newRunVM(t, "mov r0, 7\npush r0\npop r1\nend\n")
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	regs := v.Registers()
	assert(t, regs[R1] == 7, "want r1==7 after push/pop round trip, got %d", regs[R1])
	assert(t, regs[SP] == v.mem.Len(), "want SP restored to top after balanced push/pop, got %d", regs[SP])
}

func TestCallReturnRoundTrip(t *testing.T) {
	src := "jmp main\nfn:\nmov r0, 99\nret\nmain:\ncall fn\nend\n"
	v := newRunVM(t, src)
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Registers()[R0] == 99, "want r0==99 after call/return, got %d", v.Registers()[R0])
}

func TestArithmeticAndFlags(t *testing.T) {
	// res=0, op1=5, op2=5: CF := (res<op1) OR (res<op2) is true here
	// even though the subtraction didn't wrap — the source's CF
	// predicate is not a textbook borrow flag (spec.md §4.3/§9).
	v := newRunVM(t, "mov r0, 5\nsub r0, 5\nend\n")
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Registers()[ZF] == 1, "want ZF set after 5-5")
	assert(t, v.Registers()[CF] == 1, "want CF set: res(0) < op1(5)")
}

func TestSubWrapClearsCF(t *testing.T) {
	// res wraps past zero (1-5), so res is neither < op1 nor < op2:
	// CF comes out clear despite the subtraction wrapping.
	v := newRunVM(t, "mov r0, 1\nsub r0, 5\nend\n")
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Registers()[CF] == 0, "want CF clear: res(0xFFFFFFFC) < neither operand")
}

func TestDivideByZero(t *testing.T) {
	v := newRunVM(t, "mov r0, 4\nmov r1, 0\ndiv r1\nend\n")
	err := v.RunProgram()
	assert(t, err == ErrDivideByZero, "want ErrDivideByZero, got %v", err)
}

func TestStackUnderflow(t *testing.T) {
	v := newRunVM(t, "pop r0\nend\n")
	err := v.RunProgram()
	assert(t, err == ErrStackUnderflow, "want ErrStackUnderflow, got %v", err)
}

func TestLoopWithConditionalJump(t *testing.T) {
	// spec.md §8 scenario S3.
	src := "mov r1, 0\nloop:\ninc r1\ncmp r1, 3\ncjp loop\nmov r0, r1\nend\n"
	v := newRunVM(t, src)
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Registers()[R0] == 3, "want r0==3 after loop, got %d", v.Registers()[R0])
}

func TestMallocFreeRoundTrip(t *testing.T) {
	v := newRunVM(t, "malloc 8\nmov r1, r0\nfree r1\nend\n")
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
}

func TestFreeUnknownHandle(t *testing.T) {
	v := newRunVM(t, "mov r1, 123456\nfree r1\nend\n")
	err := v.RunProgram()
	assert(t, err == ErrBadFree, "want ErrBadFree, got %v", err)
}

func TestIndirectMemoryAccess(t *testing.T) {
	src := "section data\nx: dword 0\nsection code\nmov r0, x\nmov [r0], 42\nmov r1, [r0]\nend\n"
	v := newRunVM(t, src)
	err := v.RunProgram()
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.Registers()[R1] == 42, "want r1==42 after indirect round trip, got %d", v.Registers()[R1])
}

func TestDeterministicRepeatedRun(t *testing.T) {
	prog := compileSource(t, "mov r0, 3\nmul r0\nadd r0, 1\nend\n")
	var results []uint32
	for i := 0; i < 3; i++ {
		v := New(prog, StackSize, &discard{})
		err := v.RunProgram()
		assert(t, err == nil, "unexpected error: %v", err)
		results = append(results, v.Registers()[R0])
	}
	assert(t, results[0] == results[1] && results[1] == results[2], "want deterministic result across runs, got %v", results)
}
