package bytecode

import (
	"strconv"
	"strings"
)

// Opcode is a JVM instruction opcode. Negative values are pseudo
// instructions (labels, line numbers, frames) that carry bookkeeping only.
type Opcode int

const (
	OpFrame Opcode = -3
	OpLine  Opcode = -2
	OpLabel Opcode = -1

	NOP         Opcode = 0
	ACONST_NULL Opcode = 1
	ICONST_M1   Opcode = 2
	ICONST_0    Opcode = 3
	ICONST_1    Opcode = 4
	ICONST_2    Opcode = 5
	ICONST_3    Opcode = 6
	ICONST_4    Opcode = 7
	ICONST_5    Opcode = 8
	LCONST_0    Opcode = 9
	LCONST_1    Opcode = 10
	FCONST_0    Opcode = 11
	FCONST_1    Opcode = 12
	FCONST_2    Opcode = 13
	DCONST_0    Opcode = 14
	DCONST_1    Opcode = 15
	BIPUSH      Opcode = 16
	SIPUSH      Opcode = 17
	LDC         Opcode = 18

	ILOAD Opcode = 21
	LLOAD Opcode = 22
	FLOAD Opcode = 23
	DLOAD Opcode = 24
	ALOAD Opcode = 25

	ISTORE Opcode = 54
	LSTORE Opcode = 55
	FSTORE Opcode = 56
	DSTORE Opcode = 57
	ASTORE Opcode = 58

	POP  Opcode = 87
	POP2 Opcode = 88
	DUP  Opcode = 89
	IADD Opcode = 96
	IINC Opcode = 132

	IFEQ      Opcode = 153
	IFNE      Opcode = 154
	IFLT      Opcode = 155
	IFGE      Opcode = 156
	IFGT      Opcode = 157
	IFLE      Opcode = 158
	IF_ICMPEQ Opcode = 159
	IF_ICMPNE Opcode = 160
	IF_ICMPLT Opcode = 161
	IF_ICMPGE Opcode = 162
	IF_ICMPGT Opcode = 163
	IF_ICMPLE Opcode = 164
	IF_ACMPEQ Opcode = 165
	IF_ACMPNE Opcode = 166
	GOTO      Opcode = 167

	IRETURN Opcode = 172
	LRETURN Opcode = 173
	FRETURN Opcode = 174
	DRETURN Opcode = 175
	ARETURN Opcode = 176
	RETURN  Opcode = 177

	GETSTATIC       Opcode = 178
	PUTSTATIC       Opcode = 179
	GETFIELD        Opcode = 180
	PUTFIELD        Opcode = 181
	INVOKEVIRTUAL   Opcode = 182
	INVOKESPECIAL   Opcode = 183
	INVOKESTATIC    Opcode = 184
	INVOKEINTERFACE Opcode = 185
	INVOKEDYNAMIC   Opcode = 186
	NEW             Opcode = 187
	NEWARRAY        Opcode = 188
	ANEWARRAY       Opcode = 189
	ARRAYLENGTH     Opcode = 190
	ATHROW          Opcode = 191
	CHECKCAST       Opcode = 192
	INSTANCEOF      Opcode = 193

	IFNULL    Opcode = 198
	IFNONNULL Opcode = 199
)

var opcodeNames = map[Opcode]string{
	OpFrame: "FRAME", OpLine: "LINE", OpLabel: "LABEL",
	NOP: "NOP", ACONST_NULL: "ACONST_NULL",
	ICONST_M1: "ICONST_M1", ICONST_0: "ICONST_0", ICONST_1: "ICONST_1", ICONST_2: "ICONST_2",
	ICONST_3: "ICONST_3", ICONST_4: "ICONST_4", ICONST_5: "ICONST_5",
	LCONST_0: "LCONST_0", LCONST_1: "LCONST_1",
	FCONST_0: "FCONST_0", FCONST_1: "FCONST_1", FCONST_2: "FCONST_2",
	DCONST_0: "DCONST_0", DCONST_1: "DCONST_1",
	BIPUSH: "BIPUSH", SIPUSH: "SIPUSH", LDC: "LDC",
	ILOAD: "ILOAD", LLOAD: "LLOAD", FLOAD: "FLOAD", DLOAD: "DLOAD", ALOAD: "ALOAD",
	ISTORE: "ISTORE", LSTORE: "LSTORE", FSTORE: "FSTORE", DSTORE: "DSTORE", ASTORE: "ASTORE",
	POP: "POP", POP2: "POP2", DUP: "DUP", IADD: "IADD", IINC: "IINC",
	IFEQ: "IFEQ", IFNE: "IFNE", IFLT: "IFLT", IFGE: "IFGE", IFGT: "IFGT", IFLE: "IFLE",
	IF_ICMPEQ: "IF_ICMPEQ", IF_ICMPNE: "IF_ICMPNE", IF_ICMPLT: "IF_ICMPLT",
	IF_ICMPGE: "IF_ICMPGE", IF_ICMPGT: "IF_ICMPGT", IF_ICMPLE: "IF_ICMPLE",
	IF_ACMPEQ: "IF_ACMPEQ", IF_ACMPNE: "IF_ACMPNE", GOTO: "GOTO",
	IRETURN: "IRETURN", LRETURN: "LRETURN", FRETURN: "FRETURN", DRETURN: "DRETURN",
	ARETURN: "ARETURN", RETURN: "RETURN",
	GETSTATIC: "GETSTATIC", PUTSTATIC: "PUTSTATIC", GETFIELD: "GETFIELD", PUTFIELD: "PUTFIELD",
	INVOKEVIRTUAL: "INVOKEVIRTUAL", INVOKESPECIAL: "INVOKESPECIAL", INVOKESTATIC: "INVOKESTATIC",
	INVOKEINTERFACE: "INVOKEINTERFACE", INVOKEDYNAMIC: "INVOKEDYNAMIC",
	NEW: "NEW", NEWARRAY: "NEWARRAY", ANEWARRAY: "ANEWARRAY", ARRAYLENGTH: "ARRAYLENGTH",
	ATHROW: "ATHROW", CHECKCAST: "CHECKCAST", INSTANCEOF: "INSTANCEOF",
	IFNULL: "IFNULL", IFNONNULL: "IFNONNULL",
}

var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = op
	}
	return m
}()

// String returns the mnemonic, or "OP_<n>" for opcodes outside the table.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "OP_" + strconv.Itoa(int(op))
}

// OpcodeByName looks up an opcode by its mnemonic (case-insensitive).
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToUpper(strings.TrimSpace(name))]
	return op, ok
}

// IsPseudo reports whether op is a label, line number or frame marker.
func (op Opcode) IsPseudo() bool { return op < 0 }

func (op Opcode) IsReturn() bool { return op >= IRETURN && op <= RETURN }

func (op Opcode) IsInvoke() bool { return op >= INVOKEVIRTUAL && op <= INVOKEDYNAMIC }

func (op Opcode) IsFieldAccess() bool { return op >= GETSTATIC && op <= PUTFIELD }

func (op Opcode) IsFieldWrite() bool { return op == PUTFIELD || op == PUTSTATIC }

func (op Opcode) IsLoad() bool { return op >= ILOAD && op <= ALOAD }

func (op Opcode) IsStore() bool { return op >= ISTORE && op <= ASTORE }

func (op Opcode) IsJump() bool {
	return (op >= IFEQ && op <= GOTO) || op == IFNULL || op == IFNONNULL
}

// VarTypeDesc returns the descriptor implied by a load/store opcode:
// "I", "J", "F", "D" or "Ljava/lang/Object;" for reference slots.
func (op Opcode) VarTypeDesc() string {
	switch op {
	case ILOAD, ISTORE:
		return "I"
	case LLOAD, LSTORE:
		return "J"
	case FLOAD, FSTORE:
		return "F"
	case DLOAD, DSTORE:
		return "D"
	case ALOAD, ASTORE:
		return "Ljava/lang/Object;"
	}
	return ""
}
