package injectpoint

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
	"github.com/jward/injectpoint/internal/failure"
	"github.com/jward/injectpoint/internal/point"
	"github.com/jward/injectpoint/internal/selector"
)

// HandlerKind enumerates the injector kinds. The set is closed.
type HandlerKind int

const (
	HandlerDefault HandlerKind = iota
	HandlerInject
	HandlerRedirect
	HandlerModifyArg
	HandlerModifyVariable
	HandlerModifyConstant
	HandlerWrapOperation
	numHandlerKinds
)

const (
	atKey       = "at"
	constantKey = "constant"
)

// Handler is the shared contract of the injector variants. The unexported
// methods keep the set closed; obtain a Handler with HandlerFor.
type Handler interface {
	Kind() HandlerKind
	String() string
	// Soft handlers never surface unresolved failures to users.
	Soft() bool
	// DescriptorKey names the Site field holding the handler's descriptors.
	DescriptorKey() string
	// AllowsInstruction reports whether the handler can act on insn.
	AllowsInstruction(insn *bytecode.Insn) bool
	UnresolvedMessage() string

	resolveTargets(e *Engine, set selector.Set, base *bytecode.ClassNode) []Target
	isUnresolved(ctx context.Context, e *Engine, site *Site, t Target) (*failure.Failure, error)
	resolveInstructions(ctx context.Context, e *Engine, site *Site, t Target, mode point.Mode) ([]point.Result, error)
	navigationTargets(ctx context.Context, e *Engine, site *Site, t Target) ([]*bytecode.Insn, error)
	expectedSignature(site *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool)
}

// variant is the single Handler implementation; kinds differ only in the
// table entries below.
type variant struct {
	kind      HandlerKind
	tag       string
	key       string
	soft      bool
	allows    func(*bytecode.Insn) bool
	signature func(site *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool)
}

var handlers = [numHandlerKinds]*variant{
	HandlerDefault: {
		kind: HandlerDefault, tag: "default", key: atKey, soft: true,
		allows:    anyInsn,
		signature: func(*Site, Target, []*bytecode.Insn) ([]Signature, bool) { return nil, false },
	},
	HandlerInject: {
		kind: HandlerInject, tag: "inject", key: atKey,
		allows:    anyInsn,
		signature: injectSignature,
	},
	HandlerRedirect: {
		kind: HandlerRedirect, tag: "redirect", key: atKey,
		allows: func(i *bytecode.Insn) bool {
			return i.Op.IsInvoke() || i.Op.IsFieldAccess() || i.Op == bytecode.NEW ||
				i.Op == bytecode.ARRAYLENGTH || i.Op == bytecode.INSTANCEOF
		},
		signature: redirectSignature,
	},
	HandlerModifyArg: {
		kind: HandlerModifyArg, tag: "modifyarg", key: atKey,
		allows: func(i *bytecode.Insn) bool {
			return (i.Op.IsInvoke() && i.Op != bytecode.INVOKEDYNAMIC) || i.Op == bytecode.NEW
		},
		signature: modifyArgSignature,
	},
	HandlerModifyVariable: {
		kind: HandlerModifyVariable, tag: "modifyvariable", key: atKey,
		allows:    anyInsn,
		signature: modifyVariableSignature,
	},
	HandlerModifyConstant: {
		kind: HandlerModifyConstant, tag: "modifyconstant", key: constantKey,
		allows: func(i *bytecode.Insn) bool {
			_, ok := constantType(i)
			return ok
		},
		signature: modifyConstantSignature,
	},
	HandlerWrapOperation: {
		kind: HandlerWrapOperation, tag: "wrapoperation", key: atKey,
		allows: func(i *bytecode.Insn) bool {
			return (i.Op.IsInvoke() && i.Op != bytecode.INVOKEDYNAMIC) || i.Op.IsFieldAccess() ||
				i.Op == bytecode.INSTANCEOF
		},
		signature: wrapOperationSignature,
	},
}

func anyInsn(*bytecode.Insn) bool { return true }

// HandlerFor returns the handler registered for tag, ignoring case and a
// leading '@'. Unknown tags yield the soft default handler.
func HandlerFor(tag string) Handler {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "@"))
	for _, v := range handlers {
		if v.tag == t {
			return v
		}
	}
	return handlers[HandlerDefault]
}

// Handlers returns every handler in kind order.
func Handlers() []Handler {
	out := make([]Handler, len(handlers))
	for i, v := range handlers {
		out[i] = v
	}
	return out
}

func (v *variant) Kind() HandlerKind { return v.kind }

func (v *variant) String() string { return v.tag }

func (v *variant) Soft() bool { return v.soft }

func (v *variant) DescriptorKey() string { return v.key }

func (v *variant) AllowsInstruction(i *bytecode.Insn) bool { return v.allows(i) }

func (v *variant) UnresolvedMessage() string {
	return "Cannot resolve any target instructions in target class"
}

// resolveTargets scans the effective owner of each selector in declaration
// order and keeps the first matching method. Results follow selector order
// and are not deduplicated across selectors.
func (v *variant) resolveTargets(e *Engine, set selector.Set, base *bytecode.ClassNode) []Target {
	var out []Target
	for _, sel := range set.Selectors {
		owner, ok := sel.EffectiveOwner(base, e.lookup)
		if !ok {
			e.logger.Debug("selector owner not found",
				zap.String("selector", sel.Raw()), zap.String("owner", sel.Owner()))
			continue
		}
		for _, m := range owner.Methods {
			if sel.Matches(m, owner) {
				out = append(out, Target{Class: owner, Method: m, Selector: sel})
				break
			}
		}
	}
	return out
}

// isUnresolved requires every descriptor to resolve in t; the first one
// that does not is reported. No descriptors at all is a generic failure.
func (v *variant) isUnresolved(ctx context.Context, e *Engine, site *Site, t Target) (*failure.Failure, error) {
	ds := site.descriptors(v.key)
	if len(ds) == 0 {
		return failure.Generic(), nil
	}
	for _, d := range ds {
		f, err := e.resolver.IsUnresolved(ctx, d, t.Class, t.Method)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}

func (v *variant) resolveInstructions(ctx context.Context, e *Engine, site *Site, t Target, mode point.Mode) ([]point.Result, error) {
	var out []point.Result
	for _, d := range site.descriptors(v.key) {
		res, err := e.resolver.Resolve(ctx, d, t.Class, t.Method, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (v *variant) navigationTargets(ctx context.Context, e *Engine, site *Site, t Target) ([]*bytecode.Insn, error) {
	var out []*bytecode.Insn
	for _, d := range site.descriptors(v.key) {
		insns, err := e.resolver.NavigationTargets(ctx, d, t.Class, t.Method)
		if err != nil {
			return nil, err
		}
		out = append(out, insns...)
	}
	return out, nil
}

func (v *variant) expectedSignature(site *Site, t Target, matched []*bytecode.Insn) ([]Signature, bool) {
	return v.signature(site, t, matched)
}
