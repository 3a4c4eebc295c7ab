package selector

import (
	"regexp"
	"strings"

	"github.com/jward/injectpoint/internal/bytecode"
)

// Parse parses a string selector. It returns nil when the input is not
// syntactically valid.
func Parse(raw string) *Selector {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	sel := &Selector{raw: raw}

	// Owner override: "Lpkg/Owner;rest".
	if strings.HasPrefix(s, "L") {
		if semi := strings.IndexByte(s, ';'); semi > 1 && !strings.ContainsAny(s[:semi], "(:") {
			sel.owner = bytecode.InternalName(s[1:semi])
			s = s[semi+1:]
		}
	}

	nameEnd := strings.IndexAny(s, "(:")
	namePart, descPart := s, ""
	if nameEnd >= 0 {
		namePart, descPart = s[:nameEnd], s[nameEnd:]
	}

	// Owner override: "pkg/Owner.name".
	if sel.owner == "" {
		if dot := strings.LastIndexByte(namePart, '.'); dot > 0 && strings.ContainsRune(namePart[:dot], '/') {
			sel.owner = namePart[:dot]
			namePart = namePart[dot+1:]
		}
	}

	if !validName(namePart) {
		return nil
	}
	if namePart == "*" {
		namePart = ""
	}
	sel.name = namePart
	sel.pattern = strings.ContainsAny(namePart, "*?[")

	switch {
	case descPart == "":
	case descPart[0] == ':':
		typ := descPart[1:]
		if !bytecode.ValidFieldDesc(typ) {
			return nil
		}
		sel.field = true
		sel.ret, sel.hasRet = typ, true
	default:
		params, ret, err := bytecode.ParseMethodDesc(descPart)
		if err != nil {
			return nil
		}
		sel.params, sel.hasParams = params, true
		sel.ret, sel.hasRet = ret, true
	}
	return sel
}

// validName accepts JVM method names, "<init>", "<clinit>", glob patterns
// and the empty name (descriptor-only selectors).
func validName(name string) bool {
	if name == "<init>" || name == "<clinit>" || name == "" {
		return true
	}
	return !strings.ContainsAny(name, ".;/()<>: \t")
}

// DescRecord is a structured selector. Nil fields are unconstrained. Type
// entries may be descriptors ("I", "Ljava/lang/String;") or source names
// ("int", "java.lang.String").
type DescRecord struct {
	Owner *string   `yaml:"owner,omitempty" json:"owner,omitempty"`
	Value *string   `yaml:"value,omitempty" json:"value,omitempty"`
	Args  *[]string `yaml:"args,omitempty" json:"args,omitempty"`
	Ret   *string   `yaml:"ret,omitempty" json:"ret,omitempty"`
}

func (r DescRecord) String() string {
	var b strings.Builder
	b.WriteString("@Desc(")
	var parts []string
	if r.Owner != nil {
		parts = append(parts, "owner="+*r.Owner)
	}
	if r.Value != nil {
		parts = append(parts, "value="+*r.Value)
	}
	if r.Args != nil {
		parts = append(parts, "args={"+strings.Join(*r.Args, ",")+"}")
	}
	if r.Ret != nil {
		parts = append(parts, "ret="+*r.Ret)
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(")")
	return b.String()
}

func normalizeType(t string) (string, bool) {
	t = strings.TrimSpace(t)
	if t == "V" || bytecode.ValidFieldDesc(t) {
		return t, true
	}
	return bytecode.SourceTypeToDesc(t)
}

// ParseRecord converts a structured record to a Selector, or nil when a
// constrained field is malformed.
func ParseRecord(r DescRecord) *Selector {
	sel := &Selector{raw: r.String(), structured: true}
	if r.Owner != nil {
		owner := strings.TrimSpace(*r.Owner)
		if strings.HasPrefix(owner, "L") && strings.HasSuffix(owner, ";") {
			owner = owner[1 : len(owner)-1]
		}
		if owner == "" {
			return nil
		}
		sel.owner = bytecode.InternalName(owner)
	}
	if r.Value != nil {
		if !validName(*r.Value) || *r.Value == "" {
			return nil
		}
		sel.name = *r.Value
	}
	if r.Args != nil {
		sel.params = make([]string, 0, len(*r.Args))
		for _, a := range *r.Args {
			d, ok := normalizeType(a)
			if !ok || d == "V" {
				return nil
			}
			sel.params = append(sel.params, d)
		}
		sel.hasParams = true
	}
	if r.Ret != nil {
		d, ok := normalizeType(*r.Ret)
		if !ok {
			return nil
		}
		sel.ret, sel.hasRet = d, true
	}
	return sel
}

// Set is the outcome of parsing a group of raw selectors. Raw counts every
// input; Dropped lists the string inputs that failed to parse.
type Set struct {
	Selectors []*Selector
	Raw       int
	Dropped   []string
}

// Parsed returns the number of successfully parsed selectors.
func (s Set) Parsed() int { return len(s.Selectors) }

// NothingParseable reports non-empty input that produced no selector.
func (s Set) NothingParseable() bool { return s.Raw > 0 && len(s.Selectors) == 0 }

// ParseAll parses string selectors followed by structured records,
// preserving input order and silently dropping malformed entries.
func ParseAll(raws []string, records []DescRecord) Set {
	set := Set{Raw: len(raws) + len(records)}
	for _, raw := range raws {
		if sel := Parse(raw); sel != nil {
			set.Selectors = append(set.Selectors, sel)
		} else {
			set.Dropped = append(set.Dropped, raw)
		}
	}
	for _, r := range records {
		if sel := ParseRecord(r); sel != nil {
			set.Selectors = append(set.Selectors, sel)
		} else {
			set.Dropped = append(set.Dropped, r.String())
		}
	}
	return set
}

var dynamicSelectorRe = regexp.MustCompile(`^@[A-Za-z_][A-Za-z0-9_.$]*[:(]`)

// IsDynamic reports whether raw is a dynamic selector whose target cannot
// be verified statically: "@Id:..." / "@Id(...)" forms, or any input with
// one of the extra prefixes.
func IsDynamic(raw string, extraPrefixes ...string) bool {
	s := strings.TrimSpace(raw)
	if dynamicSelectorRe.MatchString(s) {
		return true
	}
	for _, p := range extraPrefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
