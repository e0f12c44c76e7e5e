package loadtest

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

const percent = 100

// PrintDuplicates writes the duplicate scenario summary.
func PrintDuplicates(w io.Writer, s DuplicateStats) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("Duplicate scenario"))
	fmt.Fprintf(w, "  submitted   %d in %s\n", s.Submitted, s.Duration.Round(1e6))
	fmt.Fprintf(w, "  created     %s\n", green(s.Created))
	fmt.Fprintf(w, "  rejected    %s (degraded verdicts: %d)\n", yellow(s.Rejected), s.Degraded)
	if s.Limited > 0 || s.Failed > 0 {
		fmt.Fprintf(w, "  limited     %s  failed %s\n", red(s.Limited), red(s.Failed))
	}

	recall := fmt.Sprintf("%.1f%%", s.Recall()*percent)
	switch {
	case s.ExpectedDuplicates == 0:
		recall = "n/a"
	case s.Recall() >= 0.9:
		recall = green(recall)
	case s.Recall() >= 0.5:
		recall = yellow(recall)
	default:
		recall = red(recall)
	}
	fmt.Fprintf(w, "  recall      %s (%d of %d follow-ups caught)\n", recall, s.CaughtDuplicates, s.ExpectedDuplicates)
	if s.FalseRejects > 0 {
		fmt.Fprintf(w, "  %s %d originals rejected as duplicates\n", red("warning:"), s.FalseRejects)
	}
}

// PrintBurst writes the burst scenario summary.
func PrintBurst(w io.Writer, s BurstStats) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s %s\n", cyan("Burst scenario"), gray(s.Identity))
	fmt.Fprintf(w, "  sent        %d in %s\n", s.Sent, s.Duration.Round(1e6))
	fmt.Fprintf(w, "  allowed     %s\n", green(s.Allowed))
	fmt.Fprintf(w, "  limited     %s", red(s.Limited))
	if s.FirstLimited > 0 {
		fmt.Fprintf(w, " (first at request %d, Retry-After %ss)", s.FirstLimited, s.RetryAfter)
	}
	fmt.Fprintln(w)
	if s.Failed > 0 {
		fmt.Fprintf(w, "  failed      %s\n", red(s.Failed))
	}
	if s.Suspicion.Level != "" {
		fmt.Fprintf(w, "  suspicion   %s (score %.1f)\n", levelColor(s.Suspicion.Level), s.Suspicion.Score)
	}
}

// PrintBoard writes the board check and the first entries.
func PrintBoard(w io.Writer, s BoardStats, entries []Entry, verbose bool) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	ordered := green("ordered")
	if !s.Ordered {
		ordered = red("OUT OF ORDER")
	}
	fmt.Fprintf(w, "\n%s %d entries, %s\n", cyan("Priority board"), s.Entries, ordered)
	limit := min(len(entries), 5)
	if verbose {
		limit = len(entries)
	}
	for _, e := range entries[:limit] {
		fmt.Fprintf(w, "  %3d  %-26s  %-22s  %7.3f  %d\n", e.Rank, e.IssueID, e.Category, e.Priority, e.Upvotes)
	}
}

func levelColor(level string) string {
	switch level {
	case "normal":
		return color.GreenString(level)
	case "elevated":
		return color.YellowString(level)
	default:
		return color.RedString(level)
	}
}
