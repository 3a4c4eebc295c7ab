package injectpoint

import (
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Type descriptors of the callback and operation parameters handlers
// receive.
const (
	CallbackInfoDesc           = "Lorg/spongepowered/asm/mixin/injection/callback/CallbackInfo;"
	CallbackInfoReturnableDesc = "Lorg/spongepowered/asm/mixin/injection/callback/CallbackInfoReturnable;"
	OperationDesc              = "Lcom/llamalad7/mixinextras/injector/wrapoperation/Operation;"
)

// Param is one handler parameter. Type is a field descriptor.
type Param struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Signature is a handler method shape the injector accepts.
type Signature struct {
	Static bool    `json:"static" yaml:"static"`
	Params []Param `json:"params" yaml:"params"`
	Return string  `json:"return" yaml:"return"`
}

// Desc returns the method descriptor of the signature.
func (s Signature) Desc() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.Type
	}
	return bytecode.MethodDesc(params, s.Return)
}

// String renders the signature in source form, e.g.
// "static void (int amount, CallbackInfo ci)".
func (s Signature) String() string {
	var b strings.Builder
	if s.Static {
		b.WriteString("static ")
	}
	b.WriteString(simpleType(s.Return))
	b.WriteString(" (")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(simpleType(p.Type))
		b.WriteString(" ")
		b.WriteString(p.Name)
	}
	b.WriteString(")")
	return b.String()
}

func simpleType(desc string) string {
	src := bytecode.DescToSourceType(desc)
	if i := strings.LastIndexByte(src, '.'); i >= 0 {
		return src[i+1:]
	}
	return src
}

// targetParams names the target method's parameters from its local
// variable table, skipping the receiver of instance methods. Unnamed
// parameters fall back to par1, par2, ...
func targetParams(t Target) []Param {
	params, _, err := bytecode.ParseMethodDesc(t.Method.Desc)
	if err != nil {
		return nil
	}
	locals := slices.Clone(t.Method.LocalVariables)
	slices.SortStableFunc(locals, func(a, b bytecode.LocalVariable) int { return a.Index - b.Index })
	drop := 1
	if t.Method.IsStatic() {
		drop = 0
	}
	out := make([]Param, len(params))
	for i, typ := range params {
		name := ""
		if j := i + drop; j < len(locals) {
			name = javaIdentifier(locals[j].Name)
		}
		if name == "" {
			name = "par" + strconv.Itoa(i+1)
		}
		out[i] = Param{Name: name, Type: typ}
	}
	return out
}

// javaIdentifier replaces characters that cannot appear in a Java
// identifier with '_'.
func javaIdentifier(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func injectSignature(_ *Site, t Target, _ []*bytecode.Insn) ([]Signature, bool) {
	_, ret, err := bytecode.ParseMethodDesc(t.Method.Desc)
	if err != nil {
		return nil, false
	}
	params := targetParams(t)
	if ret == "V" {
		params = append(params, Param{Name: "ci", Type: CallbackInfoDesc})
	} else {
		params = append(params, Param{Name: "cir", Type: CallbackInfoReturnableDesc})
	}
	return []Signature{{Static: t.Method.IsStatic(), Params: params, Return: "V"}}, true
}

// operationShape describes the operands an instruction consumes and the
// value it produces, as a handler replacing it would see them.
func operationShape(insn *bytecode.Insn) ([]Param, string, bool) {
	var params []Param
	receiver := func(owner string) {
		params = append(params, Param{Name: "instance", Type: bytecode.ClassDesc(owner)})
	}
	switch {
	case insn.Op.IsInvoke() && insn.Op != bytecode.INVOKEDYNAMIC:
		args, ret, err := bytecode.ParseMethodDesc(insn.Desc)
		if err != nil {
			return nil, "", false
		}
		if insn.Name == "<init>" {
			ret = bytecode.ClassDesc(insn.Owner)
		} else if insn.Op != bytecode.INVOKESTATIC {
			receiver(insn.Owner)
		}
		for i, a := range args {
			params = append(params, Param{Name: "par" + strconv.Itoa(i+1), Type: a})
		}
		return params, ret, true
	case insn.Op == bytecode.GETFIELD:
		receiver(insn.Owner)
		return params, insn.Desc, true
	case insn.Op == bytecode.GETSTATIC:
		return params, insn.Desc, true
	case insn.Op == bytecode.PUTFIELD:
		receiver(insn.Owner)
		return append(params, Param{Name: "value", Type: insn.Desc}), "V", true
	case insn.Op == bytecode.PUTSTATIC:
		return append(params, Param{Name: "value", Type: insn.Desc}), "V", true
	case insn.Op == bytecode.INSTANCEOF:
		return []Param{{Name: "object", Type: "Ljava/lang/Object;"}}, "Z", true
	case insn.Op == bytecode.ARRAYLENGTH:
		return []Param{{Name: "array", Type: "Ljava/lang/Object;"}}, "I", true
	}
	return nil, "", false
}

// perInsn builds one signature per matched instruction, dropping
// duplicates. When no instruction yields a shape every signature is
// acceptable.
func perInsn(matched []*bytecode.Insn, build func(*bytecode.Insn) []Signature) ([]Signature, bool) {
	var out []Signature
	seen := make(map[string]bool)
	for _, insn := range matched {
		for _, s := range build(insn) {
			key := s.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func redirectSignature(_ *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool) {
	return perInsn(matched, func(insn *bytecode.Insn) []Signature {
		params, ret, ok := operationShape(insn)
		if !ok {
			return nil
		}
		return []Signature{{Static: t.Method.IsStatic(), Params: params, Return: ret}}
	})
}

func wrapOperationSignature(_ *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool) {
	return perInsn(matched, func(insn *bytecode.Insn) []Signature {
		params, ret, ok := operationShape(insn)
		if !ok {
			return nil
		}
		params = append(params, Param{Name: "original", Type: OperationDesc})
		return []Signature{{Static: t.Method.IsStatic(), Params: params, Return: ret}}
	})
}

// modifyArgSignature yields (T) -> T for the selected call argument, or one
// alternative per argument when no index is given.
func modifyArgSignature(site *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool) {
	return perInsn(matched, func(insn *bytecode.Insn) []Signature {
		if !insn.Op.IsInvoke() {
			return nil
		}
		args, _, err := bytecode.ParseMethodDesc(insn.Desc)
		if err != nil {
			return nil
		}
		one := func(typ string) Signature {
			return Signature{Static: t.Method.IsStatic(), Params: []Param{{Name: "arg", Type: typ}}, Return: typ}
		}
		if site.Index != nil {
			if *site.Index < 0 || *site.Index >= len(args) {
				return nil
			}
			return []Signature{one(args[*site.Index])}
		}
		out := make([]Signature, len(args))
		for i, a := range args {
			out[i] = one(a)
		}
		return out
	})
}

// modifyVariableSignature yields (T) -> T where T is the local's declared
// type when the local variable table has it, else the opcode's type.
func modifyVariableSignature(_ *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool) {
	return perInsn(matched, func(insn *bytecode.Insn) []Signature {
		if !insn.Op.IsLoad() && !insn.Op.IsStore() {
			return nil
		}
		typ := insn.Op.VarTypeDesc()
		for _, lv := range t.Method.LocalVariables {
			if lv.Index == insn.Var && lv.Desc != "" {
				typ = lv.Desc
				break
			}
		}
		name, ok := t.Method.LocalName(insn.Var)
		if !ok || javaIdentifier(name) == "" {
			name = "value"
		}
		return []Signature{{Static: t.Method.IsStatic(), Params: []Param{{Name: javaIdentifier(name), Type: typ}}, Return: typ}}
	})
}

func modifyConstantSignature(_ *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool) {
	return perInsn(matched, func(insn *bytecode.Insn) []Signature {
		typ, ok := constantType(insn)
		if !ok {
			return nil
		}
		return []Signature{{Static: t.Method.IsStatic(), Params: []Param{{Name: "constant", Type: typ}}, Return: typ}}
	})
}

var constKindDescs = map[bytecode.ConstKind]string{
	bytecode.ConstInt:    "I",
	bytecode.ConstLong:   "J",
	bytecode.ConstFloat:  "F",
	bytecode.ConstDouble: "D",
	bytecode.ConstString: "Ljava/lang/String;",
	bytecode.ConstClass:  "Ljava/lang/Class;",
}

// constantType returns the type of the constant insn pushes. Zero-compare
// jumps count as an implicit int 0.
func constantType(insn *bytecode.Insn) (string, bool) {
	switch op := insn.Op; {
	case op == bytecode.ACONST_NULL:
		return "Ljava/lang/Object;", true
	case op >= bytecode.ICONST_M1 && op <= bytecode.ICONST_5, op == bytecode.BIPUSH, op == bytecode.SIPUSH:
		return "I", true
	case op == bytecode.LCONST_0 || op == bytecode.LCONST_1:
		return "J", true
	case op >= bytecode.FCONST_0 && op <= bytecode.FCONST_2:
		return "F", true
	case op == bytecode.DCONST_0 || op == bytecode.DCONST_1:
		return "D", true
	case op == bytecode.LDC && insn.Const != nil:
		d, ok := constKindDescs[insn.Const.Kind]
		return d, ok
	case op >= bytecode.IFEQ && op <= bytecode.IFLE:
		return "I", true
	}
	return "", false
}
