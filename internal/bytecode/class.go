package bytecode

import (
	"strconv"
	"strings"
)

// Access flags used by the resolver.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
)

// ClassNode is the read-only compiled representation of a class.
// Name is the internal (slash-separated) name.
type ClassNode struct {
	Name       string
	Access     int
	SuperName  string
	Interfaces []string
	SourceFile string
	Methods    []*MethodNode
}

// MethodNode is a compiled method. Instructions are ordered; an
// instruction's ordinal is its position in Insns.
type MethodNode struct {
	Name           string
	Desc           string
	Access         int
	Insns          []*Insn
	LocalVariables []LocalVariable
}

// LocalVariable is one entry of a method's local variable table.
type LocalVariable struct {
	Index int
	Name  string
	Desc  string
}

// ConstKind tags the type of an LDC constant.
type ConstKind string

const (
	ConstInt    ConstKind = "int"
	ConstLong   ConstKind = "long"
	ConstFloat  ConstKind = "float"
	ConstDouble ConstKind = "double"
	ConstString ConstKind = "string"
	ConstClass  ConstKind = "class"
)

// Constant is an LDC operand in normalized textual form. Class
// constants hold a type descriptor.
type Constant struct {
	Kind  ConstKind
	Value string
}

// Insn is one node of a method's instruction sequence. Operand fields are
// populated according to Op; identity is pointer identity.
type Insn struct {
	Op Opcode

	// Member reference (invoke and field instructions).
	Owner string
	Name  string
	Desc  string
	Itf   bool

	// Type operand (NEW, ANEWARRAY, CHECKCAST, INSTANCEOF).
	Type string

	// Local variable slot (load, store, IINC).
	Var int

	// BIPUSH/SIPUSH operand.
	IntOperand int

	// LDC operand.
	Const *Constant

	// Label id for LABEL pseudo instructions and jump targets.
	Label int

	// Source line for LINE pseudo instructions.
	Line int

	index int
}

// Index returns the ordinal position of the instruction in its method.
func (i *Insn) Index() int { return i.index }

func (i *Insn) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(i.index))
	b.WriteString(": ")
	b.WriteString(i.Op.String())
	switch {
	case i.Op.IsInvoke() || i.Op.IsFieldAccess():
		b.WriteString(" " + i.Owner + "." + i.Name + " " + i.Desc)
	case i.Type != "":
		b.WriteString(" " + i.Type)
	case i.Op.IsLoad() || i.Op.IsStore():
		b.WriteString(" " + strconv.Itoa(i.Var))
	case i.Const != nil:
		b.WriteString(" " + string(i.Const.Kind) + ":" + i.Const.Value)
	case i.Op == OpLine:
		b.WriteString(" " + strconv.Itoa(i.Line))
	}
	return b.String()
}

// NewMethod builds a MethodNode and assigns instruction ordinals. Each
// instruction must belong to exactly one method.
func NewMethod(name, desc string, access int, insns ...*Insn) *MethodNode {
	m := &MethodNode{Name: name, Desc: desc, Access: access, Insns: insns}
	m.Renumber()
	return m
}

// Renumber reassigns instruction ordinals after Insns was replaced.
func (m *MethodNode) Renumber() {
	for i, insn := range m.Insns {
		insn.index = i
	}
}

// Contains reports whether insn belongs to this method's instruction sequence.
func (m *MethodNode) Contains(insn *Insn) bool {
	if insn == nil || insn.index < 0 || insn.index >= len(m.Insns) {
		return false
	}
	return m.Insns[insn.index] == insn
}

func (m *MethodNode) IsStatic() bool { return m.Access&AccStatic != 0 }

// Key identifies a method within its class.
func (m *MethodNode) Key() string { return m.Name + m.Desc }

// LineFor returns the source line of the closest LINE marker at or before
// insn, or 0 when the method carries no line information.
func (m *MethodNode) LineFor(insn *Insn) int {
	if !m.Contains(insn) {
		return 0
	}
	for i := insn.index; i >= 0; i-- {
		if m.Insns[i].Op == OpLine {
			return m.Insns[i].Line
		}
	}
	return 0
}

// FirstLine returns the first LINE marker in the method, or 0.
func (m *MethodNode) FirstLine() int {
	for _, insn := range m.Insns {
		if insn.Op == OpLine {
			return insn.Line
		}
	}
	return 0
}

// LocalName returns the local variable table name for a slot, if any.
func (m *MethodNode) LocalName(slot int) (string, bool) {
	for _, lv := range m.LocalVariables {
		if lv.Index == slot {
			return lv.Name, true
		}
	}
	return "", false
}

// Method returns the first method with the given name and descriptor.
func (c *ClassNode) Method(name, desc string) *MethodNode {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// DottedName returns the binary name with '.' separators.
func (c *ClassNode) DottedName() string {
	return strings.ReplaceAll(c.Name, "/", ".")
}
