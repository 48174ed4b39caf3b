package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"forestfocus/internal/event"

	sqlitestore "forestfocus/internal/storage/sqlite"
)

// DaySummary aggregates one calendar day of the event log.
type DaySummary struct {
	Day            string
	FocusSessions  int
	FocusMinutes   float64
	Breaks         int
	BreakMinutes   float64
	StatsResets    int
	DaemonRestarts int
}

// reportCmd reads the event log straight from the database, so it works
// while the daemon is stopped.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the session log per day",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			log.Fatalf("Error: Database file not found at %s. Ensure forestfocusd has run or specify path with --db.", dbPath)
		} else if err != nil {
			log.Fatalf("Error accessing database file %s: %v", dbPath, err)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		endTime := time.Now()
		startTime := endTime.AddDate(0, 0, -days)

		store := sqlitestore.NewSQLiteStore(dbPath)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Init(ctx); err != nil {
			log.Fatalf("Failed to initialize storage connection: %v", err)
		}
		defer store.Close()

		events, err := store.GetEvents(ctx, startTime, endTime)
		if err != nil {
			log.Fatalf("Failed to fetch events: %v", err)
		}
		if len(events) == 0 {
			fmt.Println("No event data found for the specified period.")
			return
		}
		writeReport(os.Stdout, summarizeByDay(events, time.Local))
	},
}

func summarizeByDay(events []event.Event, loc *time.Location) []DaySummary {
	byDay := make(map[string]*DaySummary)
	for _, e := range events {
		day := e.Timestamp.In(loc).Format("2006-01-02")
		summary, ok := byDay[day]
		if !ok {
			summary = &DaySummary{Day: day}
			byDay[day] = summary
		}
		switch e.Type {
		case event.EventTypeSessionComplete:
			summary.FocusSessions++
			summary.FocusMinutes += e.Value
		case event.EventTypeBreakComplete:
			summary.Breaks++
			summary.BreakMinutes += e.Value
		case event.EventTypeStatsReset:
			summary.StatsResets++
		case event.EventTypeAppStart:
			summary.DaemonRestarts++
		}
	}

	summaries := make([]DaySummary, 0, len(byDay))
	for _, s := range byDay {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Day < summaries[j].Day })
	return summaries
}

func writeReport(w io.Writer, summaries []DaySummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tSESSIONS\tFOCUS\tBREAKS\tBREAK TIME\tSTARTS")
	var totalSessions int
	var totalFocus float64
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%d\n",
			s.Day, s.FocusSessions, formatMinutes(s.FocusMinutes), s.Breaks, formatMinutes(s.BreakMinutes), s.DaemonRestarts)
		totalSessions += s.FocusSessions
		totalFocus += s.FocusMinutes
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%s\t\t\t\n", totalSessions, formatMinutes(totalFocus))
	tw.Flush()
}

func formatMinutes(minutes float64) string {
	d := time.Duration(minutes * float64(time.Minute)).Round(time.Minute)
	h := d / time.Hour
	m := (d - h*time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
