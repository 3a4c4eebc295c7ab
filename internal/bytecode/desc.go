package bytecode

import (
	"fmt"
	"strings"
)

var primitiveDescs = map[string]string{
	"void":    "V",
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
}

var primitiveNames = func() map[byte]string {
	m := make(map[byte]string, len(primitiveDescs))
	for name, d := range primitiveDescs {
		m[d[0]] = name
	}
	return m
}()

// scanFieldType returns the end offset of the field type starting at i.
func scanFieldType(s string, i int) (int, error) {
	start := i
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type at offset %d", start)
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0, fmt.Errorf("unterminated class type at offset %d", i)
		}
		name := s[i+1 : i+end]
		if strings.ContainsAny(name, ".[(") {
			return 0, fmt.Errorf("invalid class name %q", name)
		}
		return i + end + 1, nil
	}
	return 0, fmt.Errorf("unexpected %q at offset %d", s[i], i)
}

// ValidFieldDesc reports whether s is exactly one field type descriptor.
func ValidFieldDesc(s string) bool {
	end, err := scanFieldType(s, 0)
	return err == nil && end == len(s)
}

// ParseMethodDesc splits a method descriptor into parameter descriptors and
// the return descriptor.
func ParseMethodDesc(desc string) (params []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("method descriptor %q: missing '('", desc)
	}
	i := 1
	params = []string{}
	for i < len(desc) && desc[i] != ')' {
		end, err := scanFieldType(desc, i)
		if err != nil {
			return nil, "", fmt.Errorf("method descriptor %q: %w", desc, err)
		}
		params = append(params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("method descriptor %q: missing ')'", desc)
	}
	ret = desc[i+1:]
	if ret != "V" && !ValidFieldDesc(ret) {
		return nil, "", fmt.Errorf("method descriptor %q: invalid return type %q", desc, ret)
	}
	return params, ret, nil
}

// MethodDesc joins parameter and return descriptors.
func MethodDesc(params []string, ret string) string {
	return "(" + strings.Join(params, "") + ")" + ret
}

// InternalName converts a dotted binary name to its internal form.
func InternalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// ClassDesc returns the field descriptor of an internal class name.
func ClassDesc(internal string) string {
	return "L" + internal + ";"
}

// SourceTypeToDesc converts a source-level type ("int", "java.lang.String[]")
// to a descriptor. Nested class names must already use '$'.
func SourceTypeToDesc(src string) (string, bool) {
	src = strings.TrimSpace(src)
	dims := 0
	for strings.HasSuffix(src, "[]") {
		dims++
		src = strings.TrimSpace(strings.TrimSuffix(src, "[]"))
	}
	if strings.HasSuffix(src, "...") {
		dims++
		src = strings.TrimSuffix(src, "...")
	}
	if src == "" || strings.ContainsAny(src, "<>;()[ ") {
		return "", false
	}
	var base string
	if p, ok := primitiveDescs[src]; ok {
		if p == "V" && dims > 0 {
			return "", false
		}
		base = p
	} else {
		base = ClassDesc(InternalName(src))
	}
	return strings.Repeat("[", dims) + base, true
}

// DescToSourceType renders a descriptor as a source-level type name.
func DescToSourceType(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	rest := desc[dims:]
	var base string
	switch {
	case len(rest) == 1:
		base = primitiveNames[rest[0]]
	case strings.HasPrefix(rest, "L") && strings.HasSuffix(rest, ";"):
		base = strings.NewReplacer("/", ".", "$", ".").Replace(rest[1 : len(rest)-1])
	default:
		base = rest
	}
	return base + strings.Repeat("[]", dims)
}
