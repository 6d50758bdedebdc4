package vm

import (
	"alvm/internal/diag"
	"alvm/internal/lexer"
)

// pass2 re-walks the same statements, switching section on directives
// and emitting exactly one Instruction per mnemonic line. Label and
// data lines are already resolved by pass1 and are skipped here.
func (c *AssembleContext) pass2(stmts []statement) ([]Instruction, error) {
	c.section = defaultSection
	var instrs []Instruction

	for _, st := range stmts {
		toks := st.tokens
		if len(toks) == 0 {
			continue
		}

		if isSectionDirective(toks) {
			c.section = toks[1].Text
			continue
		}

		if len(toks) >= 2 && toks[1].Kind == lexer.Colon {
			continue // label or data item, already recorded in pass1
		}

		instr, err := c.assembleStatement(toks, st.pos)
		if err != nil {
			return nil, err
		}
		if c.debugSym != nil {
			c.debugSym[len(instrs)] = tokensToSource(toks)
		}
		instrs = append(instrs, instr)
	}

	return instrs, nil
}

// tokensToSource rebuilds an approximate source line from its tokens,
// for debug-mode disassembly listings only.
func tokensToSource(toks []lexer.Token) string {
	var out string
	for i, t := range toks {
		if i > 0 && t.Kind != lexer.Colon && t.Kind != lexer.Comma && t.Kind != lexer.Dot {
			out += " "
		}
		out += t.Text
	}
	return out
}

// operandGroup is the token slice for one comma-separated operand.
type operandGroup []lexer.Token

// splitMnemonic pulls the mnemonic (with optional .width suffix) off
// the front of a statement and returns the remaining operand tokens.
func (c *AssembleContext) splitMnemonic(toks []lexer.Token, pos diag.Position) (OpCode, Width, []lexer.Token, error) {
	if len(toks) == 0 || toks[0].Kind != lexer.Ident {
		return 0, 0, nil, diag.New(pos, ErrUnexpectedToken, "")
	}
	op, ok := LookupMnemonic(toks[0].Text)
	if !ok {
		return 0, 0, nil, diag.New(toks[0].Pos, ErrUnknownMnemonic, toks[0].Text)
	}

	rest := toks[1:]
	width := Width32
	if len(rest) >= 2 && rest[0].Kind == lexer.Dot {
		w, ok := widthSuffixes[rest[1].Text]
		if !ok {
			return 0, 0, nil, diag.New(rest[1].Pos, ErrUnexpectedToken, rest[1].Text)
		}
		width = w
		rest = rest[2:]
	}
	return op, width, rest, nil
}

// splitOperands splits the remaining tokens on commas.
func splitOperands(toks []lexer.Token) []operandGroup {
	if len(toks) == 0 {
		return nil
	}
	var groups []operandGroup
	var cur operandGroup
	for _, t := range toks {
		if t.Kind == lexer.Comma {
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	groups = append(groups, cur)
	return groups
}

// resolved is one parsed-and-resolved operand: either a register
// (direct or indirect) or an immediate value.
type resolved struct {
	operand Operand
	imm     uint32
	isImm   bool
}

func (c *AssembleContext) parseOperand(g operandGroup, width Width, pos diag.Position) (resolved, error) {
	if len(g) == 0 {
		return resolved{}, diag.New(pos, ErrUnexpectedToken, "")
	}

	if len(g) == 3 && g[0].Kind == lexer.LBracket && g[2].Kind == lexer.RBracket {
		if g[1].Kind != lexer.Ident {
			return resolved{}, diag.New(g[1].Pos, ErrUnexpectedToken, g[1].Text)
		}
		reg, ok := LookupRegister(g[1].Text)
		if !ok {
			return resolved{}, diag.New(g[1].Pos, ErrUnknownRegister, g[1].Text)
		}
		return resolved{operand: Operand{Reg: reg, Indirect: true, Width: width}}, nil
	}

	if len(g) != 1 {
		return resolved{}, diag.New(g[0].Pos, ErrUnexpectedToken, g[0].Text)
	}
	tok := g[0]

	switch tok.Kind {
	case lexer.Ident:
		if reg, ok := LookupRegister(tok.Text); ok {
			return resolved{operand: Operand{Reg: reg, Indirect: false, Width: width}}, nil
		}
		addr, err := c.resolveIdentifier(tok.Text, tok.Pos)
		if err != nil {
			return resolved{}, err
		}
		return resolved{imm: addr, isImm: true}, nil

	case lexer.Number:
		v, err := parseNumber(tok)
		if err != nil {
			return resolved{}, err
		}
		return resolved{imm: v, isImm: true}, nil

	case lexer.Char:
		v, err := parseScalarLiteral(tok)
		if err != nil {
			return resolved{}, err
		}
		return resolved{imm: v, isImm: true}, nil

	case lexer.String:
		bytes := append([]byte(tok.Text), 0)
		addr := uint32(len(c.blob))
		c.blob = append(c.blob, bytes...)
		return resolved{imm: addr, isImm: true}, nil

	default:
		return resolved{}, diag.New(tok.Pos, ErrUnexpectedToken, tok.Text)
	}
}

// assembleStatement parses one instruction line into a fully resolved
// Instruction, enforcing the per-opcode operand shapes spec.md §4.3
// defines.
func (c *AssembleContext) assembleStatement(toks []lexer.Token, pos diag.Position) (Instruction, error) {
	op, width, rest, err := c.splitMnemonic(toks, pos)
	if err != nil {
		return Instruction{}, err
	}

	groups := splitOperands(rest)
	operands := make([]resolved, len(groups))
	for i, g := range groups {
		r, err := c.parseOperand(g, width, pos)
		if err != nil {
			return Instruction{}, err
		}
		operands[i] = r
	}

	instr := Instruction{Op: op, Op1: none, Op2: none, Width: width}

	shapeErr := func() (Instruction, error) {
		return Instruction{}, diag.New(pos, ErrBadOperandShape, op.String())
	}

	switch op {
	case End, Nop, Return:
		if len(operands) != 0 {
			return shapeErr()
		}

	case Push:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm {
			instr.Imm = o.imm
		} else if o.operand.present() && !o.operand.Indirect {
			instr.Op1 = o.operand
		} else {
			return shapeErr()
		}

	case Pop:
		if len(operands) > 1 {
			return shapeErr()
		}
		if len(operands) == 1 {
			o := operands[0]
			if !o.operand.present() || o.operand.Indirect {
				return shapeErr()
			}
			instr.Op1 = o.operand
		}

	case Mov:
		if len(operands) != 2 {
			return shapeErr()
		}
		dst, src := operands[0], operands[1]
		if dst.isImm || !dst.operand.present() {
			return shapeErr()
		}
		instr.Op1 = dst.operand
		if src.isImm {
			instr.Imm = src.imm
		} else if src.operand.present() {
			instr.Op2 = src.operand
		} else {
			return shapeErr()
		}

	case Add, Sub:
		switch len(operands) {
		case 1:
			if !operands[0].isImm {
				return shapeErr()
			}
			instr.Imm = operands[0].imm
		case 2:
			dst, src := operands[0], operands[1]
			if dst.isImm || !dst.operand.present() {
				return shapeErr()
			}
			instr.Op1 = dst.operand
			if src.isImm {
				instr.Imm = src.imm
			} else if src.operand.present() {
				instr.Op2 = src.operand
			} else {
				return shapeErr()
			}
		default:
			return shapeErr()
		}

	case Mul, Div:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm || !o.operand.present() {
			return shapeErr()
		}
		instr.Op1 = o.operand

	case Inc, Dec:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm || !o.operand.present() {
			return shapeErr()
		}
		instr.Op1 = o.operand

	case Cmp:
		if len(operands) != 2 {
			return shapeErr()
		}
		a, b := operands[0], operands[1]
		if a.isImm || !a.operand.present() {
			return shapeErr()
		}
		instr.Op1 = a.operand
		if b.isImm {
			instr.Imm = b.imm
		} else if b.operand.present() {
			instr.Op2 = b.operand
		} else {
			return shapeErr()
		}

	case Jump, CJump, CNJump, Call:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm {
			instr.Imm = o.imm
		} else if o.operand.present() && !o.operand.Indirect {
			instr.Op1 = o.operand
		} else {
			return shapeErr()
		}

	case PrintInt:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm || !o.operand.present() {
			return shapeErr()
		}
		instr.Op1 = o.operand

	case PrintStr:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm || !o.operand.present() || o.operand.Indirect {
			return shapeErr()
		}
		instr.Op1 = o.operand

	case Malloc:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm {
			instr.Imm = o.imm
		} else if o.operand.present() {
			instr.Op1 = o.operand
		} else {
			return shapeErr()
		}

	case Free:
		if len(operands) != 1 {
			return shapeErr()
		}
		o := operands[0]
		if o.isImm || !o.operand.present() || o.operand.Indirect {
			return shapeErr()
		}
		instr.Op1 = o.operand

	default:
		return Instruction{}, diag.New(pos, ErrUnknownMnemonic, op.String())
	}

	return instr, nil
}
