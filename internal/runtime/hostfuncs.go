package runtime

import (
	"context"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/injectpoint/internal/bytecode"
)

// makeMatchFn creates the "match" host function. Each call records one
// instruction ordinal as accepted.
//
// match(index) → nil
func makeMatchFn(n int, hits *[]int) *object.Builtin {
	return object.NewBuiltin("match", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("match", 1, len(args))
		}
		i, ok := toInt(args[0])
		if !ok {
			return object.Errorf("match: index must be an int, got %s", args[0].Type())
		}
		if i < 0 || i >= n {
			return object.Errorf("match: index %d out of range [0, %d)", i, n)
		}
		*hits = append(*hits, i)
		return object.Nil
	})
}

// makeOpcodeFn creates "opcode", which maps an opcode mnemonic to its number so
// scripts can compare against insn["opcode"].
//
// opcode(name) → int or nil
func makeOpcodeFn() *object.Builtin {
	return object.NewBuiltin("opcode", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("opcode", 1, len(args))
		}
		name, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("opcode: name must be a string, got %s", args[0].Type())
		}
		op, found := bytecode.OpcodeByName(name.Value())
		if !found {
			return object.Nil
		}
		return object.NewInt(int64(op))
	})
}

// makeLookupClassFn creates "lookup_class", which resolves another class so a
// matcher can inspect, for example, a call owner's hierarchy.
//
// lookup_class(name) → map or nil
func makeLookupClassFn(lookup bytecode.ClassLookup) *object.Builtin {
	return object.NewBuiltin("lookup_class", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("lookup_class", 1, len(args))
		}
		name, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("lookup_class: name must be a string, got %s", args[0].Type())
		}
		cls, found := lookup.LookupClass(name.Value())
		if !found {
			return object.Nil
		}
		return classObject(cls)
	})
}

// logObject provides log.info/warn/error methods for Risor scripts.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}
