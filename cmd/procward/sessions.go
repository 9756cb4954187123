package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/procward/internal/domain"
	"github.com/jkaninda/procward/internal/storage"
)

var (
	sessionsLimit int
	pruneDays     int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the session archive",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withArchive(func(archive storage.SessionStore) error {
			recs, err := archive.List(cmd.Context(), sessionsLimit)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			if len(recs) == 0 {
				fmt.Println("No archived sessions.")
				return nil
			}
			printSessions(recs)
			return nil
		})
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived sessions older than --days",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if pruneDays <= 0 {
			return fmt.Errorf("--days must be positive")
		}
		return withArchive(func(archive storage.SessionStore) error {
			cutoff := time.Now().AddDate(0, 0, -pruneDays)
			n, err := archive.DeleteBefore(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("pruning sessions: %w", err)
			}
			fmt.Printf("Deleted %d session(s) started before %s.\n", n, cutoff.Format(time.DateTime))
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum number of sessions to show")
	sessionsPruneCmd.Flags().IntVar(&pruneDays, "days", 30, "delete sessions started more than this many days ago")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsPruneCmd)
}

// withArchive opens the configured archive for the duration of fn.
func withArchive(fn func(storage.SessionStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, newLogger(), false)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	archive := sc.Archive()
	if archive == nil {
		return fmt.Errorf("session archive is disabled (storage.driver=none)")
	}
	return fn(archive)
}

func printSessions(recs []domain.SessionRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tPID\tPROCESS\tPRIORITY\tCORES\tNETWORK\tCOMMAND")
	for _, r := range recs {
		network := "allowed"
		if r.NetworkBlocked {
			network = "blocked"
		}
		cores := "-"
		if len(r.Affinity) > 0 {
			cores = r.Affinity.String()
		}
		pid := "-"
		if r.PID > 0 {
			pid = fmt.Sprint(r.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID.String()[:8],
			r.StartedAt.Local().Format(time.DateTime),
			r.State,
			pid,
			orDash(r.ProcessName),
			r.Priority,
			cores,
			network,
			orDash(truncate(r.Command, 40)),
		)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
