package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/basecamp-labs/progress-hub/internal/application/session"
	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
)

const barWidth = 20

type pageView struct {
	*session.PageState
	VerdictName string `json:"verdict"`
}

type completion struct {
	Identity    progress.Identity          `json:"identity"`
	Module      progress.ModuleName        `json:"module"`
	Synced      bool                       `json:"synced"`
	Percentages map[progress.GroupName]int `json:"percentages"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderPage(w io.Writer, asJSON bool, st *session.PageState, catalog *progress.Catalog) error {
	if asJSON {
		return writeJSON(w, pageView{PageState: st, VerdictName: st.Verdict.String()})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	identity := "none"
	if !st.Identity.IsZero() {
		identity = st.Identity.String()
	}
	fmt.Fprintf(tw, "wallet\t%s\n", identity)
	fmt.Fprintf(tw, "network\t%s\n", st.Verdict)
	fmt.Fprintln(tw)

	for _, g := range catalog.Groups() {
		pct := st.Percentages[g.Name]
		fmt.Fprintf(tw, "%s\t%s\t%3d%%\n", g.Name, bar(pct), pct)
		for _, m := range g.Modules {
			fmt.Fprintf(tw, "  %s\t%s\t\n", m, moduleMark(st.Snapshot, m))
		}
	}
	if st.Rollup.All {
		fmt.Fprintln(tw, "\nall modules completed")
	}

	for _, n := range st.Notices {
		line := "! " + n.Message
		if len(n.Modules) > 0 {
			names := make([]string, len(n.Modules))
			for i, m := range n.Modules {
				names[i] = m.String()
			}
			line += " (" + strings.Join(names, ", ") + ")"
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

func renderCompletion(w io.Writer, asJSON bool, c completion) error {
	if asJSON {
		return writeJSON(w, c)
	}
	if c.Synced {
		fmt.Fprintf(w, "%s completed\n", c.Module)
	} else {
		fmt.Fprintf(w, "%s completed locally, it will be sent on the next load\n", c.Module)
	}
	for _, g := range progress.DefaultCatalog.Groups() {
		fmt.Fprintf(w, "  %-9s %3d%%\n", g.Name, c.Percentages[g.Name])
	}
	return nil
}

func renderCatalog(w io.Writer, asJSON bool, catalog *progress.Catalog) error {
	if asJSON {
		out := make(map[progress.GroupName][]progress.ModuleName)
		for _, g := range catalog.Groups() {
			out[g.Name] = g.Modules
		}
		return writeJSON(w, out)
	}
	for _, g := range catalog.Groups() {
		names := make([]string, len(g.Modules))
		for i, m := range g.Modules {
			names[i] = m.String()
		}
		fmt.Fprintf(w, "%s: %s\n", g.Name, strings.Join(names, " "))
	}
	return nil
}

func renderKeys(w io.Writer, asJSON bool, backend string, keys []string) error {
	if asJSON {
		return writeJSON(w, map[string]any{"backend": backend, "keys": keys})
	}
	if len(keys) == 0 {
		fmt.Fprintf(w, "%s: empty\n", backend)
		return nil
	}
	fmt.Fprintf(w, "%s:\n", backend)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\n", k)
	}
	return nil
}

func moduleMark(s *progress.Snapshot, m progress.ModuleName) string {
	switch {
	case s.Confirmed(m):
		return "done"
	case s.IsComplete(m):
		return "done (pending)"
	default:
		return "-"
	}
}

func bar(pct int) string {
	filled := pct * barWidth / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}
