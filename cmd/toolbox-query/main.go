package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"system-toolbox/internal/config"
	"system-toolbox/internal/database"
	"system-toolbox/internal/exitcodes"
	"system-toolbox/internal/report"
)

func main() {
	dbPath := flag.String("db", config.DefaultDatabasePath(), "Path to run history database")
	recent := flag.Int("recent", 0, "Show N most recent runs")
	runID := flag.Int64("run", 0, "Show one run with its targets")
	stats := flag.Bool("stats", false, "Show cleaning statistics")
	days := flag.Int("days", 30, "Number of days for statistics")
	action := flag.String("action", "", "List decisions with this action (DELETE, SKIP, DRY_RUN)")
	reason := flag.String("reason", "", "List decisions with this reason")
	pathPattern := flag.String("path", "", "List decisions by path pattern (SQL LIKE syntax)")
	target := flag.String("target", "", "Restrict decision listings to one target")
	limit := flag.Int("limit", 50, "Maximum decisions to list")
	topSkipped := flag.Int("top-skipped", 0, "Show the N paths skipped most often")
	failuresOnly := flag.Bool("failures-only", false, "With --top-skipped, ignore policy exclusions")
	prune := flag.Int("prune", 0, "Delete runs older than N days, then vacuum")
	info := flag.Bool("info", false, "Show database size and contents")
	jsonOutput := flag.Bool("json", false, "Output in JSON format")
	flag.Parse()

	db, err := database.NewHistoryDB(*dbPath)
	if err != nil {
		log.Printf("ERROR: Failed to open database %s: %v", *dbPath, err)
		os.Exit(exitcodes.RuntimeError)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("ERROR: Failed to close database: %v", err)
		}
	}()

	q := query{db: db, json: *jsonOutput}
	switch {
	case *prune > 0:
		err = q.prune(*prune)
	case *info:
		err = q.info()
	case *stats:
		err = q.stats(*days)
	case *runID > 0:
		err = q.run(*runID)
	case *recent > 0:
		err = q.recent(*recent)
	case *topSkipped > 0:
		err = q.topSkipped(*topSkipped, *failuresOnly)
	case *action != "" || *reason != "" || *pathPattern != "" || *target != "":
		err = q.decisions(database.DecisionFilter{
			Target:      *target,
			Action:      strings.ToUpper(*action),
			Reason:      *reason,
			PathPattern: *pathPattern,
			Limit:       *limit,
		})
	default:
		flag.Usage()
		fmt.Println("\nExamples:")
		fmt.Println("  toolbox-query --recent 10                 # Show 10 most recent runs")
		fmt.Println("  toolbox-query --run 42                    # Show run 42 per target")
		fmt.Println("  toolbox-query --stats --days 7            # Statistics for the last week")
		fmt.Println("  toolbox-query --action DELETE             # Show deleted files")
		fmt.Println("  toolbox-query --reason delete_failed      # Show files that were in use")
		fmt.Println("  toolbox-query --path 'C:\\Windows\\Temp%'   # Decisions under Windows temp")
		fmt.Println("  toolbox-query --top-skipped 10 --failures-only")
		fmt.Println("  toolbox-query --prune 90                  # Forget runs older than 90 days")
		os.Exit(exitcodes.InvalidConfig)
	}
	if err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(exitcodes.RuntimeError)
	}
}

type query struct {
	db   *database.HistoryDB
	json bool
}

func (q query) emit(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func (q query) stats(days int) error {
	stats, err := q.db.GetStats(days)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}
	if q.json {
		return q.emit(stats)
	}

	fmt.Printf("Cleaning Statistics (Last %d days)\n", days)
	fmt.Printf("Period: %s to %s\n\n", stats.StartDate.Format("2006-01-02"), stats.EndDate.Format("2006-01-02"))
	fmt.Printf("Runs:             %d (%d with failures)\n", stats.Runs, stats.PartialRuns)
	fmt.Printf("Files Cleaned:    %d\n", stats.TotalCleaned)
	fmt.Printf("Files Skipped:    %d\n", stats.TotalSkipped)
	fmt.Printf("Space Freed:      %s\n\n", report.FormatSize(stats.TotalSpaceFreed))

	printCounts("Skipped By Reason:", stats.SkipsByReason)
	printCounts("By Action:", stats.ByAction)
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return counts[keys[i]] > counts[keys[j]] })
	fmt.Println(title)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, counts[k])
	}
	fmt.Println()
}

func (q query) recent(limit int) error {
	runs, err := q.db.GetRecentRuns(limit)
	if err != nil {
		return fmt.Errorf("get recent runs: %w", err)
	}
	if q.json {
		return q.emit(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tStarted\tTrigger\tStatus\tCleaned\tSkipped\tFreed\tDry Run")
	_, _ = fmt.Fprintln(w, "--\t-------\t-------\t------\t-------\t-------\t-----\t-------")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%v\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Trigger, r.Status,
			r.Cleaned, r.Skipped, report.FormatSize(r.BytesFreed), r.DryRun)
	}
	return w.Flush()
}

func (q query) run(id int64) error {
	r, err := q.db.GetRun(id)
	if err != nil {
		return err
	}
	if q.json {
		return q.emit(r)
	}

	fmt.Printf("Run %d (%s, %s)\n", r.ID, r.Trigger, r.Status)
	fmt.Printf("Started:  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Finished: %s\n\n", r.FinishedAt.Format("2006-01-02 15:04:05"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Target\tKind\tCleaned\tSkipped\tFreed\tDuration\tError")
	_, _ = fmt.Fprintln(w, "------\t----\t-------\t-------\t-----\t--------\t-----")
	for _, t := range r.Targets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			t.Target, t.Kind, t.Cleaned, t.Skipped, report.FormatSize(t.BytesFreed), t.Duration, t.Error)
	}
	return w.Flush()
}

func (q query) decisions(f database.DecisionFilter) error {
	records, total, err := q.db.GetDecisions(f)
	if err != nil {
		return fmt.Errorf("query decisions: %w", err)
	}
	if q.json {
		return q.emit(records)
	}
	if len(records) == 0 {
		fmt.Println("No records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Run\tTarget\tAction\tReason\tSize\tPath")
	_, _ = fmt.Fprintln(w, "---\t------\t------\t------\t----\t----")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Target, r.Action, r.Reason, report.FormatSize(r.Size), r.Path)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(records) {
		fmt.Printf("\n%d of %d shown (use --limit)\n", len(records), total)
	}
	return nil
}

func (q query) topSkipped(limit int, failuresOnly bool) error {
	counts, err := q.db.GetTopSkippedPaths(limit, failuresOnly)
	if err != nil {
		return fmt.Errorf("get skipped paths: %w", err)
	}
	if q.json {
		return q.emit(counts)
	}
	printCounts("Most Skipped Paths:", counts)
	return nil
}

func (q query) prune(days int) error {
	n, err := q.db.DeleteOldRuns(days)
	if err != nil {
		return fmt.Errorf("delete old runs: %w", err)
	}
	if err := q.db.Vacuum(); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	fmt.Printf("Deleted %d runs older than %d days\n", n, days)
	return nil
}

func (q query) info() error {
	stats, err := q.db.GetDatabaseStats()
	if err != nil {
		return fmt.Errorf("database stats: %w", err)
	}
	if q.json {
		return q.emit(stats)
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-22s %v\n", k+":", stats[k])
	}
	return nil
}
