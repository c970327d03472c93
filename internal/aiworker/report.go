package aiworker

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Report summarizes one worker run.
type Report struct {
	RoundID int64
	StartAt time.Time
	DryRun  bool
	Results []Result
}

func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Render prints the report as a table.
func (r *Report) Render(out io.Writer) error {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "\nRound #%d starting %s%s: %d users, %d failed\n",
		r.RoundID, r.StartAt.UTC().Format("2006-01-02 15:04"), mode, len(r.Results), r.Failed())

	table := tablewriter.NewWriter(out)
	table.Header("User", "Model", "Scaler", "Choice", "Status", "Points", "Error")
	for _, res := range r.Results {
		choice, points := "-", "-"
		if res.Choice.Valid() {
			choice = res.Choice.String()
		}
		if res.Status == StatusSubmitted {
			points = fmt.Sprintf("%d", res.Points)
		}
		scaler := res.Scaler
		if scaler == "" {
			scaler = "-"
		}
		if err := table.Append(shortUID(res.UserUID), res.Model, scaler, choice, res.Status, points, res.Error); err != nil {
			return err
		}
	}
	return table.Render()
}

func shortUID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}
