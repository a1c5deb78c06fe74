package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/tj/go-naturaldate"

	"github.com/asmbly/odvclock/internal/calendar"
	"github.com/asmbly/odvclock/internal/ledger"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("8"))

	openStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

func runShifts(cmd *cobra.Command, args []string) error {
	sinceText, _ := cmd.Flags().GetString("since")
	openOnly, _ := cmd.Flags().GetBool("open")
	icsPath, _ := cmd.Flags().GetString("ics")

	now := time.Now()
	since, err := parseSince(sinceText, now)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	shifts, err := st.ListShifts(ctx, since, openOnly)
	if err != nil {
		return fmt.Errorf("listing shifts: %w", err)
	}

	printShifts(cmd.OutOrStdout(), shifts, since, loc)

	if icsPath != "" {
		if err := writeICS(icsPath, shifts, now); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nWrote %s\n", icsPath)
	}
	return nil
}

// parseSince accepts natural phrases ("yesterday", "2 weeks ago") and
// plain dates.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	t, err := naturaldate.Parse(s, now, naturaldate.WithDirection(naturaldate.Past))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --since %q: %w", s, err)
	}
	return t, nil
}

func printShifts(w io.Writer, shifts []ledger.Shift, since time.Time, loc *time.Location) {
	title := "Shifts"
	if !since.IsZero() {
		title += " since " + since.In(loc).Format("Mon Jan 2 15:04")
	}
	fmt.Fprintln(w, titleStyle.Render(title))

	if len(shifts) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No shifts recorded."))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("  %-10s  %-8s  %-8s  %8s  %-24s  %s",
		"Date", "In", "Out", "Hours", "Volunteer", "Status")))

	var total time.Duration
	for _, s := range shifts {
		line := fmt.Sprintf("  %-10s  %-8s  %-8s  %8s  %-24s  %s",
			s.Date, s.TimeIn, s.TimeOut, formatHours(s.Hours()), s.Volunteer, s.Status)
		switch s.Status {
		case ledger.StatusOpen:
			line = openStyle.Render(line)
		case ledger.StatusAutoClosed, ledger.StatusMissingClockIn:
			line = warningStyle.Render(line)
		}
		fmt.Fprintln(w, line)
		total += s.Hours()
	}

	days := calendar.GroupByDay(calendar.FromShifts(shifts), loc)
	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w)
	for _, day := range keys {
		var d time.Duration
		for _, e := range days[day] {
			d += e.EndTime.Sub(e.StartTime)
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  %s  %s  (%d shifts)", day, formatHours(d), len(days[day]))))
	}
	fmt.Fprintf(w, "\nTotal: %s (%d shifts)\n", formatHours(total), len(shifts))
}

// formatHours renders d like the sheets' [h]:mm:ss column.
func formatHours(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

func writeICS(path string, shifts []ledger.Shift, now time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := calendar.Encode(f, calendar.FromShifts(shifts), now); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
