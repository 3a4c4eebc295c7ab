package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/injectpoint"
	"github.com/jward/injectpoint/internal/bytecode"
)

// classFile is the YAML dump format accepted by "index":
//
//	classes:
//	  - name: com/example/Target
//	    source_file: Target.java
//	    methods:
//	      - name: tick
//	        desc: (I)V
//	        locals: [{index: 0, name: this}, {index: 1, name: amount, desc: I}]
//	        insns:
//	          - LINE 12
//	          - ALOAD 0
//	          - INVOKEVIRTUAL com/example/Target.helper (I)V
//	          - LDC string:hello
//	          - IFEQ 1
//	          - LABEL 1
//	          - RETURN
type classFile struct {
	Classes []classDoc `yaml:"classes"`
}

type classDoc struct {
	Name       string      `yaml:"name"`
	Access     int         `yaml:"access"`
	Super      string      `yaml:"super"`
	Interfaces []string    `yaml:"interfaces"`
	SourceFile string      `yaml:"source_file"`
	Methods    []methodDoc `yaml:"methods"`
}

type methodDoc struct {
	Name   string     `yaml:"name"`
	Desc   string     `yaml:"desc"`
	Access int        `yaml:"access"`
	Static bool       `yaml:"static"`
	Locals []localDoc `yaml:"locals"`
	Insns  []string   `yaml:"insns"`
}

type localDoc struct {
	Index int    `yaml:"index"`
	Name  string `yaml:"name"`
	Desc  string `yaml:"desc"`
}

// siteFile is the YAML format accepted by the site commands.
type siteFile struct {
	Sites []injectpoint.Site `yaml:"sites"`
}

func readClasses(path string) ([]*bytecode.ClassNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading classes: %w", err)
	}
	var f classFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	out := make([]*bytecode.ClassNode, 0, len(f.Classes))
	for _, cd := range f.Classes {
		cls, err := cd.build()
		if err != nil {
			return nil, fmt.Errorf("%s: class %s: %w", path, cd.Name, err)
		}
		out = append(out, cls)
	}
	return out, nil
}

func (cd classDoc) build() (*bytecode.ClassNode, error) {
	if cd.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	cls := &bytecode.ClassNode{
		Name:       bytecode.InternalName(cd.Name),
		Access:     cd.Access,
		SuperName:  cd.Super,
		Interfaces: cd.Interfaces,
		SourceFile: cd.SourceFile,
	}
	for _, md := range cd.Methods {
		insns := make([]*bytecode.Insn, len(md.Insns))
		for i, line := range md.Insns {
			insn, err := parseInsn(line)
			if err != nil {
				return nil, fmt.Errorf("method %s%s: insn %d: %w", md.Name, md.Desc, i, err)
			}
			insns[i] = insn
		}
		access := md.Access
		if md.Static {
			access |= bytecode.AccStatic
		}
		m := bytecode.NewMethod(md.Name, md.Desc, access, insns...)
		for _, lv := range md.Locals {
			m.LocalVariables = append(m.LocalVariables, bytecode.LocalVariable(lv))
		}
		cls.Methods = append(cls.Methods, m)
	}
	return cls, nil
}

// parseInsn parses one instruction line: a mnemonic followed by operands in
// the form Insn.String prints them.
func parseInsn(line string) (*bytecode.Insn, error) {
	mnemonic, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	op, ok := bytecode.OpcodeByName(mnemonic)
	if !ok {
		return nil, fmt.Errorf("unknown opcode %q", mnemonic)
	}
	insn := &bytecode.Insn{Op: op}

	intOperand := func() (int, error) {
		n, err := strconv.Atoi(rest)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid operand %q", op, rest)
		}
		return n, nil
	}

	var err error
	switch {
	case op.IsInvoke() || op.IsFieldAccess():
		ref, desc, _ := strings.Cut(rest, " ")
		if dot := strings.LastIndexByte(ref, '.'); dot >= 0 {
			insn.Owner, insn.Name = ref[:dot], ref[dot+1:]
		} else {
			insn.Name = ref
		}
		insn.Desc = strings.TrimSpace(desc)
		if insn.Name == "" || insn.Desc == "" {
			return nil, fmt.Errorf("%s: expected owner.name desc, got %q", op, rest)
		}
		insn.Itf = op == bytecode.INVOKEINTERFACE
	case op == bytecode.NEW || op == bytecode.ANEWARRAY || op == bytecode.CHECKCAST || op == bytecode.INSTANCEOF:
		if rest == "" {
			return nil, fmt.Errorf("%s: missing type", op)
		}
		insn.Type = rest
	case op.IsLoad() || op.IsStore() || op == bytecode.IINC:
		slot, _, _ := strings.Cut(rest, " ")
		if insn.Var, err = strconv.Atoi(slot); err != nil {
			return nil, fmt.Errorf("%s: invalid slot %q", op, slot)
		}
	case op == bytecode.BIPUSH || op == bytecode.SIPUSH || op == bytecode.NEWARRAY:
		insn.IntOperand, err = intOperand()
	case op == bytecode.LDC:
		kind, value, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("LDC: expected kind:value, got %q", rest)
		}
		insn.Const = &bytecode.Constant{Kind: bytecode.ConstKind(strings.TrimSpace(kind)), Value: value}
	case op.IsJump() || op == bytecode.OpLabel:
		insn.Label, err = intOperand()
	case op == bytecode.OpLine:
		insn.Line, err = intOperand()
	}
	if err != nil {
		return nil, err
	}
	return insn, nil
}

func readSites(path string) ([]injectpoint.Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sites: %w", err)
	}
	var f siteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Sites, nil
}
