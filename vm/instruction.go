package vm

import "fmt"

// Width is the access width of an operand, in bits.
type Width int

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
)

func (w Width) Bytes() uint32 {
	return uint32(w) / 8
}

func (w Width) String() string {
	switch w {
	case Width8:
		return "b"
	case Width16:
		return "w"
	case Width32:
		return "d"
	}
	return "?unknown-width?"
}

// widthSuffixes maps the assembler's mnemonic suffixes to a Width.
var widthSuffixes = map[string]Width{
	"b": Width8,
	"w": Width16,
	"d": Width32,
}

// OpCode is the engine's instruction set, exactly as spec.md §4.1/§6
// enumerates it.
type OpCode int

const (
	End OpCode = iota
	Nop
	Jump
	CJump
	CNJump
	Call
	Return
	Push
	Pop
	Mov
	Add
	Sub
	Mul
	Div
	Inc
	Dec
	Cmp
	PrintInt
	PrintStr
	Malloc
	Free
)

// mnemonics is the opcode -> mnemonic table from spec.md §6.
var mnemonics = map[OpCode]string{
	End:      "end",
	Nop:      "nop",
	Jump:     "jmp",
	CJump:    "cjmp",
	CNJump:   "cjp",
	Call:     "call",
	Return:   "ret",
	Push:     "push",
	Pop:      "pop",
	Mov:      "mov",
	Add:      "add",
	Sub:      "sub",
	Mul:      "mul",
	Div:      "div",
	Inc:      "inc",
	Dec:      "dec",
	Cmp:      "cmp",
	PrintInt: "pint",
	PrintStr: "pstr",
	Malloc:   "malloc",
	Free:     "free",
}

var mnemonicsToOp map[string]OpCode

func init() {
	mnemonicsToOp = make(map[string]OpCode, len(mnemonics))
	for op, m := range mnemonics {
		mnemonicsToOp[m] = op
	}
}

func (op OpCode) String() string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return "?unknown-opcode?"
}

// LookupMnemonic resolves a mnemonic to its OpCode.
func LookupMnemonic(name string) (OpCode, bool) {
	op, ok := mnemonicsToOp[name]
	return op, ok
}

// Operand is a register operand: a register, whether it is used
// indirectly (as an address into the memory image) and the access
// width used when dereferencing it.
type Operand struct {
	Reg      RegType
	Indirect bool
	Width    Width
}

// none is the "no operand" sentinel value used in Op1/Op2 slots an
// instruction doesn't use.
var none = Operand{Reg: NUL, Width: Width32}

func (o Operand) present() bool {
	return o.Reg != NUL
}

func (o Operand) String() string {
	if !o.present() {
		return ""
	}
	if o.Indirect {
		return fmt.Sprintf("[%s]", o.Reg)
	}
	return o.Reg.String()
}

// Instruction is a single decoded instruction. Bytes is never executed
// and the assembler leaves it empty: `data` directive payloads are
// appended straight to the data blob instead.
type Instruction struct {
	Op    OpCode
	Imm   uint32
	Op1   Operand
	Op2   Operand
	Width Width
	Bytes []byte
}

func (i Instruction) String() string {
	parts := []string{i.Op.String()}
	if i.Op1.present() {
		parts = append(parts, i.Op1.String())
	}
	if i.Op2.present() {
		parts = append(parts, i.Op2.String())
	} else if i.usesImmediate() {
		parts = append(parts, fmt.Sprintf("%d", i.Imm))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	out := parts[0] + " " + parts[1]
	for _, p := range parts[2:] {
		out += ", " + p
	}
	return out
}

// usesImmediate reports whether this instruction carries a bare
// immediate in Imm rather than (or in addition to) its operands —
// used only for pretty-printing since decode already knows the shape.
func (i Instruction) usesImmediate() bool {
	switch i.Op {
	case Jump, CJump, CNJump, Call, Push, Malloc:
		return !i.Op1.present()
	case Add, Sub, Mov, Cmp:
		return !i.Op2.present()
	}
	return false
}
