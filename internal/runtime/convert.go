package runtime

import (
	"github.com/risor-io/risor/object"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Scripts cannot walk Go structs field by field, so the compiled model is
// handed to them as plain Risor maps and lists built here.

// insnsObject converts a method's instructions to a list of maps:
//
//	index, opcode, op, owner, name, desc, type, var, int,
//	const_kind, const, label, line
func insnsObject(m *bytecode.MethodNode) *object.List {
	items := make([]object.Object, len(m.Insns))
	line := 0
	for i, insn := range m.Insns {
		if insn.Op == bytecode.OpLine {
			line = insn.Line
		}
		items[i] = insnObject(insn, line)
	}
	return object.NewList(items)
}

func insnObject(insn *bytecode.Insn, line int) *object.Map {
	constKind, constValue := "", ""
	if insn.Const != nil {
		constKind, constValue = string(insn.Const.Kind), insn.Const.Value
	}
	return object.NewMap(map[string]object.Object{
		"index":      object.NewInt(int64(insn.Index())),
		"opcode":     object.NewInt(int64(insn.Op)),
		"op":         object.NewString(insn.Op.String()),
		"owner":      object.NewString(insn.Owner),
		"name":       object.NewString(insn.Name),
		"desc":       object.NewString(insn.Desc),
		"type":       object.NewString(insn.Type),
		"var":        object.NewInt(int64(insn.Var)),
		"int":        object.NewInt(int64(insn.IntOperand)),
		"const_kind": object.NewString(constKind),
		"const":      object.NewString(constValue),
		"label":      object.NewInt(int64(insn.Label)),
		"line":       object.NewInt(int64(line)),
	})
}

func methodObject(m *bytecode.MethodNode) *object.Map {
	locals := make(map[string]object.Object, len(m.LocalVariables))
	for _, lv := range m.LocalVariables {
		locals[lv.Name] = object.NewInt(int64(lv.Index))
	}
	return object.NewMap(map[string]object.Object{
		"name":   object.NewString(m.Name),
		"desc":   object.NewString(m.Desc),
		"access": object.NewInt(int64(m.Access)),
		"static": object.NewBool(m.IsStatic()),
		"locals": object.NewMap(locals),
	})
}

func classObject(c *bytecode.ClassNode) *object.Map {
	ifaces := make([]object.Object, len(c.Interfaces))
	for i, n := range c.Interfaces {
		ifaces[i] = object.NewString(n)
	}
	methods := make([]object.Object, len(c.Methods))
	for i, m := range c.Methods {
		methods[i] = object.NewString(m.Key())
	}
	return object.NewMap(map[string]object.Object{
		"name":        object.NewString(c.Name),
		"super":       object.NewString(c.SuperName),
		"interfaces":  object.NewList(ifaces),
		"source_file": object.NewString(c.SourceFile),
		"access":      object.NewInt(int64(c.Access)),
		"methods":     object.NewList(methods),
	})
}

func argsObject(args map[string]string) *object.Map {
	m := make(map[string]object.Object, len(args))
	for k, v := range args {
		m[k] = object.NewString(v)
	}
	return object.NewMap(m)
}

func toInt(obj object.Object) (int, bool) {
	switch v := obj.(type) {
	case *object.Int:
		return int(v.Value()), true
	case *object.Float:
		return int(v.Value()), true
	}
	return 0, false
}
