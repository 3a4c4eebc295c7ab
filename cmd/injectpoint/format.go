package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// outputResult writes result in the configured format.
func (a *app) outputResult(result CLIResult) error {
	switch a.cfg.Format {
	case "text":
		return outputResultText(a.out, result)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes err in the configured format and returns it so RunE
// can propagate it to cobra. In text mode nothing is written; main prints
// the error to stderr.
func (a *app) outputError(command string, err error) error {
	if a.cfg == nil || a.cfg.Format == "text" {
		return err
	}
	_ = a.outputResult(CLIResult{Command: command, Error: err.Error()})
	return err
}

func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIIndex:
		formatIndexText(w, v)
	case []CLITarget:
		formatTargetsText(w, v)
	case []CLIInstruction:
		formatInstructionsText(w, v)
	case []CLIReport:
		formatReportsText(w, v)
	case []CLIElement:
		formatElementsText(w, v)
	case []CLISignature:
		formatSignaturesText(w, v)
	case []string:
		for _, s := range v {
			fmt.Fprintln(w, s)
		}
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

func formatIndexText(w io.Writer, idx CLIIndex) {
	fmt.Fprintf(w, "Changed: %d\n", len(idx.Changed))
	for _, name := range idx.Changed {
		fmt.Fprintf(w, "  %s\n", name)
	}
	fmt.Fprintf(w, "Unchanged: %d\n", idx.Unchanged)
	if len(idx.Removed) > 0 {
		fmt.Fprintf(w, "Removed: %d\n", len(idx.Removed))
		for _, name := range idx.Removed {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
	fmt.Fprintf(w, "Stamp: %d\n", idx.Stamp)
}

func formatTargetsText(w io.Writer, ts []CLITarget) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tCLASS\tMETHOD\tSELECTOR")
	for _, t := range ts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Site, t.Class, t.Method, t.Selector)
	}
	tw.Flush()
}

func formatInstructionsText(w io.Writer, insns []CLIInstruction) {
	gray := color.New(color.FgHiBlack)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SITE\tTARGET\tPOSITION\tINSN\tMATCHED")
	for _, in := range insns {
		insn := in.Insn
		if !in.Allowed {
			insn = gray.Sprint(insn + " (not allowed)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", in.Site, in.Target, in.Position, insn, in.Matched)
	}
	tw.Flush()
}

func formatReportsText(w io.Writer, reports []CLIReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSITE\tHANDLER\tDETAIL")
	for _, r := range reports {
		var detail []string
		if r.Failure != "" {
			detail = append(detail, r.Failure)
		}
		detail = append(detail, r.Ambiguities...)
		detail = append(detail, r.Duplicates...)
		if len(r.Dropped) > 0 {
			detail = append(detail, "dropped: "+strings.Join(r.Dropped, ", "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", statusColor(r.Status), r.Site, r.Handler, strings.Join(detail, "; "))
	}
	tw.Flush()
}

func statusColor(status string) string {
	switch status {
	case statusOK:
		return color.GreenString(status)
	case statusSoft, statusWarning:
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

func formatElementsText(w io.Writer, els []CLIElement) {
	for _, el := range els {
		text := el.Text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i] + " ..."
		}
		fmt.Fprintf(w, "%s:%d:%d\t%s\t%s\t%s\n", el.File, el.Line, el.Column, el.Kind, el.Site, text)
	}
}

func formatSignaturesText(w io.Writer, sigs []CLISignature) {
	bold := color.New(color.Bold)
	for _, s := range sigs {
		fmt.Fprintf(w, "%s  %s\n", bold.Sprint(s.Site), s.Target)
		if s.Any {
			fmt.Fprintln(w, "  (any signature)")
			continue
		}
		for _, sig := range s.Signatures {
			fmt.Fprintf(w, "  %s\n", sig)
		}
	}
}
