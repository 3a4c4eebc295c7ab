package point

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/failure"
	"github.com/jward/injectpoint/internal/selector"
)

// ScriptRunner evaluates script-defined matchers for the SCRIPT kind. It
// returns the ordinals of the instructions the script accepts.
type ScriptRunner interface {
	MatchScript(ctx context.Context, script string, class *bytecode.ClassNode, method *bytecode.MethodNode, args map[string]string) ([]int, error)
}

// matchContext is what a matcher factory sees when building a predicate.
type matchContext struct {
	ctx     context.Context
	class   *bytecode.ClassNode
	method  *bytecode.MethodNode
	desc    *Descriptor
	nested  *selector.Selector
	args    map[string]string
	scripts ScriptRunner
}

// opcode returns the opcode restriction from the descriptor or its args.
func (mc *matchContext) opcode() (bytecode.Opcode, bool, error) {
	if mc.desc.Opcode != 0 {
		return bytecode.Opcode(mc.desc.Opcode), true, nil
	}
	raw, ok := mc.args["opcode"]
	if !ok {
		return 0, false, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return bytecode.Opcode(n), true, nil
	}
	if op, ok := bytecode.OpcodeByName(strings.TrimPrefix(strings.ToUpper(raw), "OPCODES.")); ok {
		return op, true, nil
	}
	return 0, false, fmt.Errorf("unknown opcode %q", raw)
}

// kindSpec is one row of the registration table.
type kindSpec struct {
	// build returns a fresh predicate, or a descriptor-level failure.
	build func(mc *matchContext) (Predicate, *failure.Failure, error)
	// position is where code goes relative to the matched instruction.
	position Position
	// nested reports whether the kind reads Target/Desc as a member selector.
	nested bool
}

var kinds = [numKinds]kindSpec{
	KindHead:         {build: headMatcher},
	KindReturn:       {build: returnMatcher},
	KindTail:         {build: tailMatcher},
	KindInvoke:       {build: invokeMatcher, nested: true},
	KindInvokeAssign: {build: invokeAssignMatcher, nested: true, position: After},
	KindInvokeString: {build: invokeStringMatcher, nested: true},
	KindField:        {build: fieldMatcher, nested: true},
	KindNew:          {build: newMatcher},
	KindLoad:         {build: varMatcher(bytecode.Opcode.IsLoad)},
	KindStore:        {build: varMatcher(bytecode.Opcode.IsStore)},
	KindConstant:     {build: constantMatcher},
	KindJump:         {build: jumpMatcher},
	KindScript:       {build: scriptMatcher},
}

func descriptorFailure(format string, a ...any) *failure.Failure {
	return failure.New(fmt.Sprintf(format, a...), failure.SpecificityDescriptor)
}

func headMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	seen := false
	return func(insn *bytecode.Insn) bool {
		if seen || insn.Op.IsPseudo() {
			return false
		}
		seen = true
		return true
	}, nil, nil
}

func returnMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	return func(insn *bytecode.Insn) bool { return insn.Op.IsReturn() }, nil, nil
}

func tailMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	tail := -1
	for i := len(mc.method.Insns) - 1; i >= 0; i-- {
		if mc.method.Insns[i].Op.IsReturn() {
			tail = i
			break
		}
	}
	return func(insn *bytecode.Insn) bool { return tail >= 0 && insn.Index() == tail }, nil, nil
}

func invokeAccepts(mc *matchContext, insn *bytecode.Insn) bool {
	if !insn.Op.IsInvoke() || insn.Op == bytecode.INVOKEDYNAMIC {
		return false
	}
	return mc.nested == nil || mc.nested.MatchesReference(insn.Owner, insn.Name, insn.Desc)
}

func invokeMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	return func(insn *bytecode.Insn) bool { return invokeAccepts(mc, insn) }, nil, nil
}

// invokeAssignMatcher accepts only calls whose result is assigned, i.e.
// non-void returns.
func invokeAssignMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	return func(insn *bytecode.Insn) bool {
		return invokeAccepts(mc, insn) && !strings.HasSuffix(insn.Desc, ")V")
	}, nil, nil
}

const stringArgVoid = "(Ljava/lang/String;)V"

// invokeStringMatcher accepts single-String-argument void calls whose
// argument is the constant named by the "ldc" arg.
func invokeStringMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	ldc, ok := mc.args["ldc"]
	if !ok {
		return nil, descriptorFailure("%s requires an ldc argument", KindInvokeString), nil
	}
	insns := mc.method.Insns
	return func(insn *bytecode.Insn) bool {
		if insn.Desc != stringArgVoid || !invokeAccepts(mc, insn) {
			return false
		}
		for i := insn.Index() - 1; i >= 0; i-- {
			prev := insns[i]
			if prev.Op.IsPseudo() {
				continue
			}
			return prev.Op == bytecode.LDC && prev.Const != nil &&
				prev.Const.Kind == bytecode.ConstString && prev.Const.Value == ldc
		}
		return false
	}, nil, nil
}

func fieldMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	op, hasOp, err := mc.opcode()
	if err != nil {
		return nil, descriptorFailure("%v", err), nil
	}
	if hasOp && !op.IsFieldAccess() {
		return nil, descriptorFailure("opcode %s is not a field access", op), nil
	}
	return func(insn *bytecode.Insn) bool {
		if !insn.Op.IsFieldAccess() || (hasOp && insn.Op != op) {
			return false
		}
		return mc.nested == nil || mc.nested.MatchesReference(insn.Owner, insn.Name, insn.Desc)
	}, nil, nil
}

// newMatcher accepts NEW instructions. Target names the class either
// directly ("pkg/Type", "pkg.Type", "Lpkg/Type;") or as a constructor
// descriptor returning it ("(I)Lpkg/Type;").
func newMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	raw := strings.TrimSpace(mc.desc.Target)
	if raw == "" {
		raw = mc.args["class"]
	}
	want := ""
	switch {
	case raw == "":
	case strings.HasPrefix(raw, "("):
		_, ret, err := bytecode.ParseMethodDesc(raw)
		if err != nil || !strings.HasPrefix(ret, "L") {
			return nil, descriptorFailure("invalid constructor descriptor %q", raw), nil
		}
		want = ret[1 : len(ret)-1]
	case strings.HasPrefix(raw, "L") && strings.HasSuffix(raw, ";"):
		want = raw[1 : len(raw)-1]
	default:
		want = bytecode.InternalName(raw)
	}
	if strings.ContainsAny(want, " ();<>") {
		return nil, descriptorFailure("invalid class name %q", raw), nil
	}
	return func(insn *bytecode.Insn) bool {
		return insn.Op == bytecode.NEW && (want == "" || insn.Type == want)
	}, nil, nil
}

// varMatcher builds LOAD/STORE matchers. Args narrow by slot ("index"),
// local variable table name ("name") or descriptor ("type").
func varMatcher(family func(bytecode.Opcode) bool) func(mc *matchContext) (Predicate, *failure.Failure, error) {
	return func(mc *matchContext) (Predicate, *failure.Failure, error) {
		slot := -1
		if raw, ok := mc.args["index"]; ok {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return nil, descriptorFailure("invalid local index %q", raw), nil
			}
			slot = n
		}
		name, hasName := mc.args["name"]
		typ, hasType := mc.args["type"]
		if hasType && !bytecode.ValidFieldDesc(typ) {
			d, ok := bytecode.SourceTypeToDesc(typ)
			if !ok {
				return nil, descriptorFailure("invalid local type %q", typ), nil
			}
			typ = d
		}
		return func(insn *bytecode.Insn) bool {
			if !family(insn.Op) {
				return false
			}
			if slot >= 0 && insn.Var != slot {
				return false
			}
			if hasName {
				if n, ok := mc.method.LocalName(insn.Var); !ok || n != name {
					return false
				}
			}
			if hasType {
				implied := insn.Op.VarTypeDesc()
				if isReference(typ) {
					return isReference(implied)
				}
				return implied == typ
			}
			return true
		}, nil, nil
	}
}

func isReference(desc string) bool {
	return strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[")
}

// constantMatcher accepts constant pushes. With no constraint arg every
// constant instruction matches.
func constantMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	type want struct {
		kind  bytecode.ConstKind
		value string
	}
	var wants []want
	for _, k := range []struct {
		arg  string
		kind bytecode.ConstKind
	}{
		{"intValue", bytecode.ConstInt},
		{"longValue", bytecode.ConstLong},
		{"floatValue", bytecode.ConstFloat},
		{"doubleValue", bytecode.ConstDouble},
		{"stringValue", bytecode.ConstString},
		{"classValue", bytecode.ConstClass},
	} {
		v, ok := mc.args[k.arg]
		if !ok {
			continue
		}
		if k.kind == bytecode.ConstClass && !bytecode.ValidFieldDesc(v) {
			d, ok := bytecode.SourceTypeToDesc(v)
			if !ok {
				return nil, descriptorFailure("invalid classValue %q", v), nil
			}
			v = d
		}
		if k.kind == bytecode.ConstInt {
			if _, err := strconv.Atoi(v); err != nil {
				return nil, descriptorFailure("invalid intValue %q", v), nil
			}
		}
		wants = append(wants, want{k.kind, v})
	}
	_, nullValue := mc.args["nullValue"]

	return func(insn *bytecode.Insn) bool {
		kind, value, ok := constantOf(insn)
		if !ok {
			return false
		}
		if len(wants) == 0 && !nullValue {
			return true
		}
		if nullValue && insn.Op == bytecode.ACONST_NULL {
			return true
		}
		return slices.Contains(wants, want{kind, value})
	}, nil, nil
}

// constantOf normalizes the constant pushed by insn.
func constantOf(insn *bytecode.Insn) (bytecode.ConstKind, string, bool) {
	switch op := insn.Op; {
	case op == bytecode.ACONST_NULL:
		return "", "null", true
	case op >= bytecode.ICONST_M1 && op <= bytecode.ICONST_5:
		return bytecode.ConstInt, strconv.Itoa(int(op - bytecode.ICONST_0)), true
	case op == bytecode.LCONST_0 || op == bytecode.LCONST_1:
		return bytecode.ConstLong, strconv.Itoa(int(op - bytecode.LCONST_0)), true
	case op >= bytecode.FCONST_0 && op <= bytecode.FCONST_2:
		return bytecode.ConstFloat, strconv.Itoa(int(op-bytecode.FCONST_0)) + ".0", true
	case op == bytecode.DCONST_0 || op == bytecode.DCONST_1:
		return bytecode.ConstDouble, strconv.Itoa(int(op-bytecode.DCONST_0)) + ".0", true
	case op == bytecode.BIPUSH || op == bytecode.SIPUSH:
		return bytecode.ConstInt, strconv.Itoa(insn.IntOperand), true
	case op == bytecode.LDC && insn.Const != nil:
		return insn.Const.Kind, insn.Const.Value, true
	}
	return "", "", false
}

func jumpMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	op, hasOp, err := mc.opcode()
	if err != nil {
		return nil, descriptorFailure("%v", err), nil
	}
	if hasOp && !op.IsJump() {
		return nil, descriptorFailure("opcode %s is not a jump", op), nil
	}
	return func(insn *bytecode.Insn) bool {
		return insn.Op.IsJump() && (!hasOp || insn.Op == op)
	}, nil, nil
}

// scriptMatcher delegates to a script named by the "script" arg (or the
// descriptor target). The script runs once per traversal.
func scriptMatcher(mc *matchContext) (Predicate, *failure.Failure, error) {
	name := mc.args["script"]
	if name == "" {
		name = strings.TrimSpace(mc.desc.Target)
	}
	if name == "" {
		return nil, descriptorFailure("%s requires a script argument", KindScript), nil
	}
	if mc.scripts == nil {
		return nil, failure.NewSoft(fmt.Sprintf("no script runner for %q", name)), nil
	}
	indices, err := mc.scripts.MatchScript(mc.ctx, name, mc.class, mc.method, mc.args)
	if err != nil {
		return nil, nil, fmt.Errorf("script %s: %w", name, err)
	}
	hit := make(map[int]bool, len(indices))
	for _, i := range indices {
		hit[i] = true
	}
	return func(insn *bytecode.Insn) bool { return hit[insn.Index()] }, nil, nil
}
