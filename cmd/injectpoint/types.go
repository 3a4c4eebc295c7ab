package main

import (
	"strconv"

	"github.com/jward/injectpoint"
	"github.com/jward/injectpoint/internal/source"
)

// CLIResult is the top-level envelope for all commands.
type CLIResult struct {
	Command    string `json:"command" yaml:"command"`
	Results    any    `json:"results" yaml:"results"`
	TotalCount *int   `json:"total_count,omitempty" yaml:"total_count,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIIndex summarizes an index run.
type CLIIndex struct {
	Changed   []string `json:"changed" yaml:"changed"`
	Unchanged int      `json:"unchanged" yaml:"unchanged"`
	Removed   []string `json:"removed,omitempty" yaml:"removed,omitempty"`
	Stamp     int64    `json:"stamp" yaml:"stamp"`
}

// CLITarget is one resolved target method.
type CLITarget struct {
	Site     string `json:"site" yaml:"site"`
	Class    string `json:"class" yaml:"class"`
	Method   string `json:"method" yaml:"method"`
	Selector string `json:"selector" yaml:"selector"`
}

// CLIInstruction is one resolved injection point.
type CLIInstruction struct {
	Site     string `json:"site" yaml:"site"`
	Target   string `json:"target" yaml:"target"`
	Index    int    `json:"index" yaml:"index"`
	Insn     string `json:"insn" yaml:"insn"`
	Matched  string `json:"matched" yaml:"matched"`
	Position string `json:"position" yaml:"position"`
	Allowed  bool   `json:"allowed" yaml:"allowed"`
}

// CLIReport is the check outcome of one site.
type CLIReport struct {
	Site        string   `json:"site" yaml:"site"`
	Handler     string   `json:"handler" yaml:"handler"`
	Status      string   `json:"status" yaml:"status"`
	Failure     string   `json:"failure,omitempty" yaml:"failure,omitempty"`
	Dropped     []string `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	Ambiguities []string `json:"ambiguities,omitempty" yaml:"ambiguities,omitempty"`
	Duplicates  []string `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
}

// Check statuses.
const (
	statusOK         = "ok"
	statusSoft       = "soft"
	statusUnresolved = "unresolved"
	statusWarning    = "warning"
	statusUnparsed   = "unparseable"
)

// CLIElement is a navigation element tagged with its site.
type CLIElement struct {
	Site           string `json:"site" yaml:"site"`
	source.Element `yaml:",inline"`
}

// CLISignature lists acceptable handler signatures for one target.
type CLISignature struct {
	Site       string   `json:"site" yaml:"site"`
	Target     string   `json:"target" yaml:"target"`
	Signatures []string `json:"signatures,omitempty" yaml:"signatures,omitempty"`
	Any        bool     `json:"any,omitempty" yaml:"any,omitempty"`
}

func targetToCLI(site string, t injectpoint.Target) CLITarget {
	sel := ""
	if t.Selector != nil {
		sel = t.Selector.Raw()
	}
	return CLITarget{Site: site, Class: t.Class.DottedName(), Method: t.Method.Key(), Selector: sel}
}

func instructionToCLI(site string, r injectpoint.InsnResult) CLIInstruction {
	return CLIInstruction{
		Site:     site,
		Target:   r.Target.String(),
		Index:    r.Result.Index(),
		Insn:     r.Result.Insn.String(),
		Matched:  r.Result.Matched.String(),
		Position: r.Result.Position.String(),
		Allowed:  r.Allowed,
	}
}

func reportToCLI(r injectpoint.Report) CLIReport {
	out := CLIReport{Site: r.Name, Handler: r.Handler, Status: statusOK, Dropped: r.Dropped}
	if out.Site == "" {
		out.Site = "#" + strconv.Itoa(int(r.Site))
	}
	for _, a := range r.Ambiguities {
		out.Ambiguities = append(out.Ambiguities, a.Class+": "+a.Message)
	}
	for _, d := range r.Duplicates {
		out.Duplicates = append(out.Duplicates, d.Target+": "+d.Message)
	}
	if len(out.Ambiguities) > 0 || len(out.Duplicates) > 0 {
		out.Status = statusWarning
	}
	if r.Failure != nil {
		out.Failure = r.Failure.String()
		if !r.Soft {
			out.Status = statusUnresolved
		} else if out.Status == statusOK {
			out.Status = statusSoft
		}
	}
	if r.NothingParseable {
		out.Status = statusUnparsed
	}
	return out
}

func signatureToCLI(site string, s injectpoint.TargetSignatures) CLISignature {
	out := CLISignature{Site: site, Target: s.Target.String(), Any: s.Any}
	for _, sig := range s.Signatures {
		out.Signatures = append(out.Signatures, sig.String())
	}
	return out
}
