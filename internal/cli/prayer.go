package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/salah-ledger/salah/internal/app/prayersync"
	"github.com/salah-ledger/salah/internal/domain"
)

// ─── Prayer CLI ─────────────────────────────────────────────────────────────
// today, log, history and streak all run one engine operation for the
// configured user and print the published state.

func init() {
	rootCmd.AddCommand(todayCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(streakCmd)

	logCmd.Flags().Bool("exempt", false, "Mark the profile as exempt (menstrual) for this update")
	historyCmd.Flags().IntP("weeks", "w", 4, "Number of weeks to show, current week first")
}

// ─── today ──────────────────────────────────────────────────────────────────

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's prayers and credits",
	Args:  cobra.NoArgs,
	RunE:  runToday,
}

func runToday(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.engine.LoadToday(cmd.Context(), rt.userID(), rt.cfg.Sync.Timezone); err != nil {
		return err
	}
	printState(cmd.OutOrStdout(), rt.engine.Snapshot())
	return nil
}

// ─── log ────────────────────────────────────────────────────────────────────

var logCmd = &cobra.Command{
	Use:   "log SLOT STATUS",
	Short: "Log a prayer for today",
	Long: `Log one of today's prayers.

SLOT is one of: fajr, dhuhr, asr, maghrib, isha.
STATUS is one of: on_time, late, qada, missed, at_masjid, at_home,
not_applicable, not_logged.

Logging the same prayer again replaces the earlier status.`,
	Args: cobra.ExactArgs(2),
	RunE: runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	slot, err := domain.ParseSlot(strings.ToLower(args[0]))
	if err != nil {
		return err
	}
	status, err := domain.ParseStatus(strings.ToLower(args[1]))
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if exempt, _ := cmd.Flags().GetBool("exempt"); exempt {
		rt.engine.SetExemptionMode(true)
	}

	res, err := rt.engine.UpdateStatus(cmd.Context(), rt.userID(), slot, status)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Rollover {
		fmt.Fprintf(out, "A new day has started (%s).\n", res.Day.DayID)
	}
	fmt.Fprintf(out, "✅ %s logged as %s (%+d credits, total %d)\n", slot, status, res.Delta, res.TotalCredits)
	return nil
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the last weeks of logged prayers",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	weeks, _ := cmd.Flags().GetInt("weeks")
	if weeks <= 0 || weeks > 52 {
		return fmt.Errorf("--weeks must be between 1 and 52")
	}

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	history, err := rt.engine.LoadHistory(cmd.Context(), rt.userID(), weeks)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), history)
	return nil
}

// ─── streak ─────────────────────────────────────────────────────────────────

var streakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Recompute and show the current streak",
	Args:  cobra.NoArgs,
	RunE:  runStreak,
}

func runStreak(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.engine.LoadToday(cmd.Context(), rt.userID(), rt.cfg.Sync.Timezone); err != nil {
		return err
	}
	n, err := rt.engine.RecomputeStreak(cmd.Context(), rt.userID())
	if err != nil {
		return err
	}
	day := "days"
	if n == 1 {
		day = "day"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🔥 Current streak: %d %s\n", n, day)
	return nil
}

// ─── Output ─────────────────────────────────────────────────────────────────

func printState(w io.Writer, s prayersync.State) {
	fmt.Fprintf(w, "%s  (%s)\n", s.Day.DayID, s.UserID)
	for _, slot := range domain.AllSlots() {
		fmt.Fprintf(w, "  %-8s %s\n", slot, statusLabel(s.Day.Status(slot)))
	}
	if s.Day.MenstrualExempt {
		fmt.Fprintln(w, "  (exempt day)")
	}
	fmt.Fprintf(w, "Credits today: %d\n", s.Day.Credits)
	fmt.Fprintf(w, "Total credits: %d\n", s.Ledger.TotalCredits)
	fmt.Fprintf(w, "Streak:        %d\n", s.Ledger.CurrentStreak)
}

func printHistory(w io.Writer, weeks []prayersync.WeekHistory) {
	for _, wk := range weeks {
		fmt.Fprintf(w, "Week of %s  %d/%d\n", wk.WeekStart.Format("2006-01-02"), wk.Completed(), len(wk.Days)*domain.SlotCount)
		for _, d := range wk.Days {
			var b strings.Builder
			for _, s := range d.Statuses {
				b.WriteString(statusMark(s))
			}
			fmt.Fprintf(w, "  %s  %s\n", d.DayID, b.String())
		}
	}
}

func statusLabel(s domain.PrayerStatus) string {
	switch s {
	case domain.StatusNotLogged:
		return "–"
	case domain.StatusNotApplicable:
		return "not applicable"
	default:
		return strings.ReplaceAll(string(s), "_", " ")
	}
}

func statusMark(s domain.PrayerStatus) string {
	switch s {
	case domain.StatusOnTime, domain.StatusAtMasjid, domain.StatusAtHome:
		return "●"
	case domain.StatusLate, domain.StatusQada:
		return "◐"
	case domain.StatusNotApplicable:
		return "◌"
	default:
		return "○"
	}
}
