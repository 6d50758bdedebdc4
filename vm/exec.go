package vm

/*
	Fetch-decode-execute loop (spec.md §4.1, §4.3).

	Dispatch is a single tagged-variant switch over Instruction.Op, per
	spec.md §9's redesign note: the original source's method-pointer
	jump table is dropped in favour of a plain switch, which the Go
	compiler can bounds-check and which needs no per-opcode receiver
	type. Grounded in shape on the teacher's exec.go step loop, with the
	stack-machine instruction set replaced by the register machine's.
*/

// parityTable[b] is 1 if b has an even number of set bits, 0
// otherwise — PF is computed by indexing this with the low byte of
// the last ALU result, in the style of oisee-z80-optimizer's
// ParityTable.
var parityTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		bits := 0
		for b := i; b != 0; b >>= 1 {
			bits += b & 1
		}
		if bits%2 == 0 {
			parityTable[i] = 1
		}
	}
}

// step executes a single instruction and advances pc, or returns the
// runtime fault that halted the machine.
func (vm *VM) step() error {
	if int(vm.pc) >= len(vm.program) {
		return ErrBadJumpTarget
	}
	instr := vm.program[vm.pc]
	nextPC := vm.pc + 1

	switch instr.Op {
	case End:
		vm.halted = true
		return nil

	case Nop:
		// no-op

	case Push:
		v, err := vm.operandValue(instr.Op1, instr.Imm)
		if err != nil {
			return err
		}
		if err := vm.push(v, instr.Width); err != nil {
			return err
		}

	case Pop:
		v, err := vm.pop(instr.Width)
		if err != nil {
			return err
		}
		if instr.Op1.present() {
			if err := vm.writeOperand(instr.Op1, v); err != nil {
				return err
			}
		}

	case Mov:
		v, err := vm.operandValue(instr.Op2, instr.Imm)
		if err != nil {
			return err
		}
		if err := vm.writeOperand(instr.Op1, v); err != nil {
			return err
		}

	case Add:
		if err := vm.binaryALU(instr, func(a, b uint32) uint32 { return a + b }); err != nil {
			return err
		}

	case Sub:
		if err := vm.binaryALU(instr, func(a, b uint32) uint32 { return a - b }); err != nil {
			return err
		}

	case Mul:
		// No flag update: the source omits it and spec.md carries that
		// through rather than inventing one.
		src, err := vm.operandValue(instr.Op1, instr.Imm)
		if err != nil {
			return err
		}
		vm.regs[R0] = vm.regs[R0] * src

	case Div:
		src, err := vm.operandValue(instr.Op1, instr.Imm)
		if err != nil {
			return err
		}
		if src == 0 {
			return ErrDivideByZero
		}
		a := vm.regs[R0]
		vm.regs[R0] = a / src
		vm.regs[R3] = a % src

	case Inc:
		v, err := vm.readOperand(instr.Op1)
		if err != nil {
			return err
		}
		result := v + 1
		if err := vm.writeOperand(instr.Op1, result); err != nil {
			return err
		}
		vm.setFlagsFromResult(result, v, 1)

	case Dec:
		v, err := vm.readOperand(instr.Op1)
		if err != nil {
			return err
		}
		result := v - 1
		if err := vm.writeOperand(instr.Op1, result); err != nil {
			return err
		}
		vm.setFlagsFromResult(result, v, 1)

	case Cmp:
		a, err := vm.readOperand(instr.Op1)
		if err != nil {
			return err
		}
		b, err := vm.operandValue(instr.Op2, instr.Imm)
		if err != nil {
			return err
		}
		vm.setFlagsFromResult(a-b, a, b)

	case Jump:
		target, err := vm.operandValue(instr.Op1, instr.Imm)
		if err != nil {
			return err
		}
		nextPC = target

	case CJump:
		if vm.regs[CF] != 0 {
			target, err := vm.operandValue(instr.Op1, instr.Imm)
			if err != nil {
				return err
			}
			nextPC = target
		}

	case CNJump:
		if vm.regs[CF] == 0 {
			target, err := vm.operandValue(instr.Op1, instr.Imm)
			if err != nil {
				return err
			}
			nextPC = target
		}

	case Call:
		target, err := vm.operandValue(instr.Op1, instr.Imm)
		if err != nil {
			return err
		}
		if err := vm.push(vm.pc+1, Width32); err != nil {
			return err
		}
		nextPC = target

	case Return:
		ret, err := vm.pop(Width32)
		if err != nil {
			return err
		}
		nextPC = ret

	case PrintInt:
		v, err := vm.readOperand(instr.Op1)
		if err != nil {
			return err
		}
		vm.printInt(v)

	case PrintStr:
		addr, err := vm.readOperand(instr.Op1)
		if err != nil {
			return err
		}
		s, err := vm.mem.ReadCString(addr)
		if err != nil {
			return err
		}
		vm.printStr(string(s))

	case Malloc:
		size, err := vm.operandValue(instr.Op1, instr.Imm)
		if err != nil {
			return err
		}
		vm.regs[R0] = vm.mem.Malloc(size)

	case Free:
		handle, err := vm.readOperand(instr.Op1)
		if err != nil {
			return err
		}
		if err := vm.mem.Free(handle); err != nil {
			return err
		}

	default:
		return ErrBadJumpTarget
	}

	if int(nextPC) > len(vm.program) {
		return ErrBadJumpTarget
	}
	vm.pc = nextPC
	return nil
}

// binaryALU implements the shared Add/Sub shape: either "op dst, src"
// or the implicit-R0 one-operand form "op imm" (spec.md §4.3).
func (vm *VM) binaryALU(instr Instruction, apply func(a, b uint32) uint32) error {
	if !instr.Op1.present() {
		a := vm.regs[R0]
		result := apply(a, instr.Imm)
		vm.regs[R0] = result
		vm.setFlagsFromResult(result, a, instr.Imm)
		return nil
	}

	a, err := vm.readOperand(instr.Op1)
	if err != nil {
		return err
	}
	b, err := vm.operandValue(instr.Op2, instr.Imm)
	if err != nil {
		return err
	}
	result := apply(a, b)
	if err := vm.writeOperand(instr.Op1, result); err != nil {
		return err
	}
	vm.setFlagsFromResult(result, a, b)
	return nil
}

// setFlagsFromResult derives ZF/CF/SF/PF from an ALU result (spec.md
// §4.3), given the result and its two source operands op1, op2. CF
// uses the source's own predicate verbatim for both add and sub:
// res < op1 OR res < op2, an unsigned-wrap test rather than a
// textbook borrow/carry check.
func (vm *VM) setFlagsFromResult(result, op1, op2 uint32) {
	if result == 0 {
		vm.regs[ZF] = 1
	} else {
		vm.regs[ZF] = 0
	}
	if result&0x80000000 != 0 {
		vm.regs[SF] = 1
	} else {
		vm.regs[SF] = 0
	}
	vm.regs[PF] = parityTable[result&0xFF]

	if result < op1 || result < op2 {
		vm.regs[CF] = 1
	} else {
		vm.regs[CF] = 0
	}
}

// readOperand dereferences o (if Indirect) or returns its register's
// raw value.
func (vm *VM) readOperand(o Operand) (uint32, error) {
	if o.Indirect {
		return vm.mem.ReadWidth(vm.regs[o.Reg], o.Width)
	}
	return vm.regs[o.Reg], nil
}

// operandValue is readOperand generalized to the "operand or bare
// immediate" shape every ALU/control-flow instruction allows.
func (vm *VM) operandValue(o Operand, imm uint32) (uint32, error) {
	if !o.present() {
		return imm, nil
	}
	return vm.readOperand(o)
}

// writeOperand stores v into o's register, or into memory at the
// address o's register holds if o.Indirect.
func (vm *VM) writeOperand(o Operand, v uint32) error {
	if o.Indirect {
		return vm.mem.WriteWidth(vm.regs[o.Reg], o.Width, v)
	}
	if !o.Reg.writable() {
		return ErrBadAddress
	}
	vm.regs[o.Reg] = v
	return nil
}

// push decrements SP by width.Bytes() and stores v at the new SP.
func (vm *VM) push(v uint32, width Width) error {
	n := width.Bytes()
	if vm.regs[SP] < n {
		return ErrStackOverflow
	}
	newSP := vm.regs[SP] - n
	if newSP <= vm.regs[SS] {
		return ErrStackOverflow
	}
	if err := vm.mem.WriteWidth(newSP, width, v); err != nil {
		return err
	}
	vm.regs[SP] = newSP
	return nil
}

// pop reads width.Bytes() bytes at SP and increments SP past them.
func (vm *VM) pop(width Width) (uint32, error) {
	if vm.regs[SP]+width.Bytes() > vm.mem.Len() {
		return 0, ErrStackUnderflow
	}
	v, err := vm.mem.ReadWidth(vm.regs[SP], width)
	if err != nil {
		return 0, err
	}
	vm.regs[SP] += width.Bytes()
	return v, nil
}
