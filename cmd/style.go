package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

func printBanner() {
	_ = pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("zb", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("coll", pterm.FgDarkGray.ToStyle()),
	).Render()
}

// formatLatency renders a duration with an SI prefix, e.g. "215 µs".
func formatLatency(d time.Duration) string {
	return humanize.SIWithDigits(d.Seconds(), 1, "s")
}

func resultRows(results []result) [][]string {
	rows := [][]string{{"Operation", "Reps", "Mean latency", "Last value"}}
	for _, r := range results {
		mean := "-"
		if r.Reps > 0 {
			mean = formatLatency(r.Total / time.Duration(r.Reps))
		}
		rows = append(rows, []string{
			r.Op,
			humanize.Comma(int64(r.Reps)),
			mean,
			humanize.Comma(int64(r.Value)),
		})
	}
	return rows
}

func counterRows(rep report) [][]string {
	c := rep.Counters
	return [][]string{
		{"Counter", "Packets"},
		{"acked", humanize.Comma(int64(c.Acked))},
		{"received", humanize.Comma(int64(c.Received))},
		{"discarded", humanize.Comma(int64(c.Discarded))},
		{"errored", humanize.Comma(int64(c.Errored))},
	}
}

func printReport(rep report, err error) {
	pterm.DefaultSection.Println(rep.Title)
	pterm.Info.Printfln("group id %d", rep.GroupID)
	if len(rep.Results) > 0 {
		_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(resultRows(rep.Results)).Render()
	}
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(counterRows(rep)).Render()
	if err != nil {
		pterm.Error.Println(err.Error())
		return
	}
	if rep.Counters.Discarded > 0 || rep.Counters.Errored > 0 {
		pterm.Warning.Printfln("%s packets discarded, %s send errors",
			humanize.Comma(int64(rep.Counters.Discarded)), humanize.Comma(int64(rep.Counters.Errored)))
		return
	}
	pterm.Success.Println("all collectives completed")
}
