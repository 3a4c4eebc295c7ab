package bytecode

// Instruction constructors. Ordinals are assigned by NewMethod.

func Op(op Opcode) *Insn { return &Insn{Op: op} }

func Invoke(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Op: op, Owner: owner, Name: name, Desc: desc, Itf: op == INVOKEINTERFACE}
}

func Field(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Op: op, Owner: owner, Name: name, Desc: desc}
}

func Var(op Opcode, slot int) *Insn { return &Insn{Op: op, Var: slot} }

func TypeOp(op Opcode, typ string) *Insn { return &Insn{Op: op, Type: typ} }

func Ldc(kind ConstKind, value string) *Insn {
	return &Insn{Op: LDC, Const: &Constant{Kind: kind, Value: value}}
}

func Push(op Opcode, value int) *Insn { return &Insn{Op: op, IntOperand: value} }

func Jump(op Opcode, label int) *Insn { return &Insn{Op: op, Label: label} }

func Label(id int) *Insn { return &Insn{Op: OpLabel, Label: id} }

func LineNumber(line int) *Insn { return &Insn{Op: OpLine, Line: line} }
