package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/injectpoint/internal/bytecode"
)

// ComputeClassHash computes a deterministic hash of a class's structure.
// Interfaces are order-insensitive; methods and instructions are not, since
// declaration and instruction order affect resolution.
func ComputeClassHash(cls *bytecode.ClassNode) string {
	h := sha256.New()

	fmt.Fprintf(h, "name:%s\n", cls.Name)
	fmt.Fprintf(h, "access:%d\n", cls.Access)
	fmt.Fprintf(h, "super:%s\n", cls.SuperName)
	fmt.Fprintf(h, "source:%s\n", cls.SourceFile)

	ifaces := make([]string, len(cls.Interfaces))
	copy(ifaces, cls.Interfaces)
	sort.Strings(ifaces)
	fmt.Fprintf(h, "interfaces:%s\n", strings.Join(ifaces, ","))

	for _, m := range cls.Methods {
		fmt.Fprintf(h, "method:%s:%s:%d\n", m.Name, m.Desc, m.Access)
		for _, insn := range m.Insns {
			fmt.Fprintf(h, "insn:%d:%s:%s:%s:%v:%s:%d:%d:%d:%d",
				insn.Op, insn.Owner, insn.Name, insn.Desc, insn.Itf,
				insn.Type, insn.Var, insn.IntOperand, insn.Label, insn.Line)
			if insn.Const != nil {
				fmt.Fprintf(h, ":%s=%s", insn.Const.Kind, insn.Const.Value)
			}
			h.Write([]byte{'\n'})
		}
		// Local variables: sorted by slot.
		lvs := make([]bytecode.LocalVariable, len(m.LocalVariables))
		copy(lvs, m.LocalVariables)
		sort.Slice(lvs, func(i, j int) bool { return lvs[i].Index < lvs[j].Index })
		for _, lv := range lvs {
			fmt.Fprintf(h, "local:%d:%s:%s\n", lv.Index, lv.Name, lv.Desc)
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
