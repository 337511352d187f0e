package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"promptloom/internal/pipeline"
)

type nodeJSON struct {
	Workflow  string   `json:"workflow"`
	Outcome   string   `json:"outcome"`
	Reasons   []string `json:"reasons,omitempty"`
	Hash      string   `json:"execution_hash,omitempty"`
	FastPath  bool     `json:"fast_path,omitempty"`
	Output    string   `json:"output,omitempty"`
	Duration  string   `json:"duration,omitempty"`
	BlockedBy string   `json:"blocked_by,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type reportJSON struct {
	RunID string     `json:"run_id"`
	Root  string     `json:"root"`
	Order []string   `json:"order"`
	Nodes []nodeJSON `json:"nodes"`
}

func toNodeJSON(node pipeline.NodeReport) nodeJSON {
	out := nodeJSON{
		Workflow:  node.Workflow,
		Outcome:   string(node.Outcome),
		Reasons:   reasonList(node),
		Hash:      node.Hash,
		FastPath:  node.FastPath,
		Output:    node.Output,
		BlockedBy: node.BlockedBy,
	}
	if node.Duration > 0 {
		out.Duration = node.Duration.Round(time.Millisecond).String()
	}
	if node.Err != nil {
		out.Error = node.Err.Error()
	}
	return out
}

func toReportJSON(report pipeline.Report) reportJSON {
	out := reportJSON{RunID: report.RunID, Root: report.Root, Order: report.Order, Nodes: []nodeJSON{}}
	for _, node := range report.Nodes {
		out.Nodes = append(out.Nodes, toNodeJSON(node))
	}
	return out
}

func reasonList(node pipeline.NodeReport) []string {
	out := make([]string, 0, len(node.Reasons))
	for _, r := range node.Reasons {
		out = append(out, string(r))
	}
	return out
}

func nodeDetail(node pipeline.NodeReport) string {
	switch {
	case node.BlockedBy != "":
		return "blocked by " + node.BlockedBy
	case node.Err != nil:
		return node.Err.Error()
	case len(node.Reasons) > 0:
		return strings.Join(reasonList(node), ", ")
	case node.FastPath:
		return "unchanged (mtime)"
	case node.Outcome == pipeline.OutcomeFresh:
		return "unchanged (hash)"
	}
	return ""
}

func renderNodes(nodes []pipeline.NodeReport, colorize bool) string {
	rows := make([][]string, 0, len(nodes))
	for i, node := range nodes {
		duration := ""
		if node.Duration > 0 {
			duration = node.Duration.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			node.Workflow,
			outcomeLabel(node.Outcome, colorize),
			nodeDetail(node),
			duration,
		})
	}
	return renderTable(
		[]string{"#", "Workflow", "Outcome", "Detail", "Duration"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func printReport(out io.Writer, report pipeline.Report, colorize bool) {
	if len(report.Nodes) == 0 {
		return
	}
	fmt.Fprintln(out, renderNodes(report.Nodes, colorize))
	fmt.Fprintf(out, "%d executed, %d fresh, %d failed, %d skipped",
		report.Count(pipeline.OutcomeExecuted),
		report.Count(pipeline.OutcomeFresh),
		report.Count(pipeline.OutcomeFailed),
		report.Count(pipeline.OutcomeSkipped),
	)
	if planned := report.Count(pipeline.OutcomePlanned); planned > 0 {
		fmt.Fprintf(out, ", %d would run", planned)
	}
	if canceled := report.Count(pipeline.OutcomeCanceled); canceled > 0 {
		fmt.Fprintf(out, ", %d canceled", canceled)
	}
	fmt.Fprintln(out)
}
