package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/drfirst/visitdesk/internal/visitview"
)

// writeView prints a view as aligned plain text
func writeView(w io.Writer, v visitview.View) {
	fmt.Fprintf(w, "%s", v.Title)
	if v.Badge != nil {
		fmt.Fprintf(w, " [%s]", v.Badge.Label)
	}
	fmt.Fprintln(w)
	if v.Message != "" {
		fmt.Fprintln(w, v.Message)
	}

	if len(v.Fields) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, f := range v.Fields {
			fmt.Fprintf(tw, "  %s:\t%s\n", f.Label, f.Value)
		}
		tw.Flush()
	}

	if s := v.Responses; s != nil {
		switch s.Kind {
		case visitview.SectionList:
			fmt.Fprintln(w, "Responses:")
			for i, item := range s.Items {
				fmt.Fprintf(w, "  %d. %s\n     %s\n", i+1, item.Question, item.Answer)
			}
		case visitview.SectionNotice:
			fmt.Fprintln(w, s.Notice)
			if s.Hint != "" {
				fmt.Fprintln(w, s.Hint)
			}
		}
	}

	if len(v.Actions) > 0 {
		fmt.Fprint(w, "Actions:")
		for _, a := range v.Actions {
			if a.Target != "" {
				fmt.Fprintf(w, " [%s -> %s]", a.Label, a.Target)
			} else {
				fmt.Fprintf(w, " [%s]", a.Label)
			}
		}
		fmt.Fprintln(w)
	}
}
