// Package failure models non-fatal explanations of why a selector or
// injection point did not resolve. A nil *Failure means "resolved".
package failure

// Specificity ranks how precisely a Failure locates the problem. Any Failure
// with a message outranks every Failure without one.
type Specificity int

const (
	SpecificityNone Specificity = iota
	// SpecificityInstruction: the method was found but no instruction matched.
	SpecificityInstruction
	// SpecificityDescriptor: the descriptor or its nested selector is malformed.
	SpecificityDescriptor
)

// Failure is an immutable resolution failure.
type Failure struct {
	Message     string
	Soft        bool
	Specificity Specificity
}

// Generic returns a Failure with no message.
func Generic() *Failure { return &Failure{} }

// New returns a hard Failure with a message.
func New(message string, specificity Specificity) *Failure {
	return &Failure{Message: message, Specificity: specificity}
}

// NewSoft returns a Failure for input that cannot be statically verified.
func NewSoft(message string) *Failure {
	return &Failure{Message: message, Soft: true, Specificity: SpecificityNone}
}

// rank orders failures for Combine: messageless failures rank 0, failures
// with a message rank by Specificity above them.
func (f *Failure) rank() int {
	if f.Message == "" {
		return 0
	}
	return int(f.Specificity) + 1
}

// HasMessage reports whether the failure carries a human-readable reason.
func (f *Failure) HasMessage() bool { return f != nil && f.Message != "" }

func (f *Failure) String() string {
	if f == nil {
		return "resolved"
	}
	if f.Message == "" {
		return "unresolved"
	}
	return f.Message
}

// Combine merges two per-candidate outcomes. Success (nil) on either side
// wins. Otherwise the more specific failure is kept whole, softness
// included; a failure without a message always yields to one that has a
// message, and ties keep a.
//
// Combine is a selection over a total preorder with a left-biased tie-break
// and is therefore associative.
func Combine(a, b *Failure) *Failure {
	if a == nil || b == nil {
		return nil
	}
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Reduce folds Combine over fs. An empty input yields Generic().
func Reduce(fs []*Failure) *Failure {
	if len(fs) == 0 {
		return Generic()
	}
	acc := fs[0]
	for _, f := range fs[1:] {
		acc = Combine(acc, f)
	}
	return acc
}
