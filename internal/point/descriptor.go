package point

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jward/injectpoint/internal/selector"
)

// Shift moves the insertion point after a structural match.
type Shift string

const (
	ShiftNone   Shift = ""
	ShiftBefore Shift = "BEFORE"
	ShiftAfter  Shift = "AFTER"
	ShiftBy     Shift = "BY"
)

// Slice restricts matches to the instruction range bounded by two nested
// descriptors. A nil bound is open.
type Slice struct {
	From *Descriptor `yaml:"from,omitempty" json:"from,omitempty"`
	To   *Descriptor `yaml:"to,omitempty" json:"to,omitempty"`
}

// Descriptor is a declarative instruction-point description (an "@At").
type Descriptor struct {
	// Value is the kind tag, e.g. "HEAD" or "INVOKE".
	Value string `yaml:"value" json:"value"`
	// Target is a nested string selector for INVOKE/FIELD/NEW kinds.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
	// Desc is a nested structured selector, used when Target is empty.
	Desc *selector.DescRecord `yaml:"desc,omitempty" json:"desc,omitempty"`
	// Ordinal selects the Nth match (0-based). Nil selects every match.
	Ordinal *int `yaml:"ordinal,omitempty" json:"ordinal,omitempty"`
	// Opcode restricts FIELD and JUMP matches; 0 means any.
	Opcode int    `yaml:"opcode,omitempty" json:"opcode,omitempty"`
	Shift  Shift  `yaml:"shift,omitempty" json:"shift,omitempty"`
	By     int    `yaml:"by,omitempty" json:"by,omitempty"`
	Slice  *Slice `yaml:"slice,omitempty" json:"slice,omitempty"`
	// Args are kind-specific "key=value" parameters.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
}

func (d *Descriptor) String() string {
	var parts []string
	parts = append(parts, strconv.Quote(d.Value))
	if d.Target != "" {
		parts = append(parts, "target="+strconv.Quote(d.Target))
	}
	if d.Desc != nil {
		parts = append(parts, "desc="+d.Desc.String())
	}
	if d.Ordinal != nil {
		parts = append(parts, "ordinal="+strconv.Itoa(*d.Ordinal))
	}
	if d.Shift != ShiftNone {
		parts = append(parts, "shift="+string(d.Shift))
	}
	return "@At(" + strings.Join(parts, ", ") + ")"
}

// Arg returns the value for key in Args.
func (d *Descriptor) Arg(key string) (string, bool) {
	for _, a := range d.Args {
		k, v, ok := strings.Cut(a, "=")
		if ok && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// ArgMap returns Args as a map; later duplicates win.
func (d *Descriptor) ArgMap() map[string]string {
	m := make(map[string]string, len(d.Args))
	for _, a := range d.Args {
		if k, v, ok := strings.Cut(a, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m
}

// NestedSelector parses Target (or Desc). It returns (nil, nil) when the
// descriptor has no nested selector and an error when one is present but
// malformed.
func (d *Descriptor) NestedSelector() (*selector.Selector, error) {
	switch {
	case strings.TrimSpace(d.Target) != "":
		if sel := selector.Parse(d.Target); sel != nil {
			return sel, nil
		}
		return nil, fmt.Errorf("invalid target selector %q", d.Target)
	case d.Desc != nil:
		if sel := selector.ParseRecord(*d.Desc); sel != nil {
			return sel, nil
		}
		return nil, fmt.Errorf("invalid target descriptor %s", d.Desc)
	}
	return nil, nil
}

// offset returns the instruction offset applied by Shift.
func (d *Descriptor) offset() int {
	switch strings.ToUpper(string(d.Shift)) {
	case string(ShiftBefore):
		return -1
	case string(ShiftAfter):
		return 1
	case string(ShiftBy):
		return d.By
	}
	return 0
}
