package point

import "strings"

// Kind is the closed set of injection-point matcher kinds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindHead
	KindReturn
	KindTail
	KindInvoke
	KindInvokeAssign
	KindInvokeString
	KindField
	KindNew
	KindLoad
	KindStore
	KindConstant
	KindJump
	KindScript

	numKinds
)

var kindTags = [numKinds]string{
	KindUnknown:      "",
	KindHead:         "HEAD",
	KindReturn:       "RETURN",
	KindTail:         "TAIL",
	KindInvoke:       "INVOKE",
	KindInvokeAssign: "INVOKE_ASSIGN",
	KindInvokeString: "INVOKE_STRING",
	KindField:        "FIELD",
	KindNew:          "NEW",
	KindLoad:         "LOAD",
	KindStore:        "STORE",
	KindConstant:     "CONSTANT",
	KindJump:         "JUMP",
	KindScript:       "SCRIPT",
}

// aliases maps namespaced or legacy tags onto kinds.
var aliases = map[string]Kind{
	"MIXINEXTRAS:EXPRESSION": KindScript,
	"EXPRESSION":             KindScript,
}

func (k Kind) String() string {
	if k < numKinds && kindTags[k] != "" {
		return kindTags[k]
	}
	return "UNKNOWN"
}

// ParseKind maps a descriptor tag onto a Kind. Tags are case-insensitive.
func ParseKind(tag string) (Kind, bool) {
	t := strings.ToUpper(strings.TrimSpace(tag))
	if t == "" {
		return KindUnknown, false
	}
	for k := KindHead; k < numKinds; k++ {
		if kindTags[k] == t {
			return k, true
		}
	}
	if k, ok := aliases[t]; ok {
		return k, true
	}
	return KindUnknown, false
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds-1)
	for k := KindHead; k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}
