package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"actdb/internal/blob"
	"actdb/internal/diffengine"
	"actdb/internal/ingest"
	"actdb/internal/persistence"
	"actdb/internal/recalc"
	"actdb/internal/service"
	"actdb/internal/snapshot"
	"actdb/pkg/act"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "actdb",
		Short: "Temporal database of legal acts",
		Long: `actdb stores legal acts and their amendments, recalculates the
act texts in force at every enforcement date, and answers point-in-time
queries: the state of an act at a date, its change log, and structural
diffs between two dates.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("sources", defaultSourceDir(), "directory holding act sources")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(recalculateCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(changesCmd())
	rootCmd.AddCommand(diffCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultSourceDir() string {
	if dir := os.Getenv("ACTDB_SOURCE_DIR"); dir != "" {
		return dir
	}
	return "./acts"
}

func openStore(ctx context.Context) (*snapshot.Store, func(), error) {
	blobs, err := blob.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}
	index, err := snapshot.OpenIndex(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open change-point index: %w", err)
	}
	store, err := snapshot.New(blobs, index, snapshot.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		_ = index.Close()
		return nil, nil, err
	}
	return store, func() { _ = index.Close() }, nil
}

func today() act.Date {
	now := time.Now()
	return act.NewDate(now.Year(), now.Month(), now.Day())
}

func parseDateFlag(cmd *cobra.Command, name string, fallback act.Date) (act.Date, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return act.Date{}, err
	}
	if raw == "" {
		return fallback, nil
	}
	return act.ParseDate(raw)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <act.yaml>",
		Short: "Validate an act file and install it into the source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, _ := cmd.Flags().GetString("sources")
			amendments, _ := cmd.Flags().GetString("amendments")
			id, err := ingest.Add(sources, args[0], amendments)
			if err != nil {
				return err
			}
			fmt.Printf("added act %s to %s\n", id, sources)
			return nil
		},
	}
	cmd.Flags().String("amendments", "", "amendments file declared by this act")
	return cmd
}

func recalculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Recalculate act states for every enforcement date",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sourceDir, _ := cmd.Flags().GetString("sources")
			until, err := parseDateFlag(cmd, "until", today())
			if err != nil {
				return err
			}
			parallelism, _ := cmd.Flags().GetInt("parallelism")

			sources, err := ingest.LoadSources(sourceDir)
			if err != nil {
				return err
			}
			inputs, err := groupInputs(sources)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no act sources under %s", sourceDir)
			}

			store, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			driver := recalc.NewDriver(store, recalc.Options{Parallelism: parallelism})
			report, err := driver.Run(ctx, inputs, until)
			if err != nil {
				return err
			}
			for _, res := range report.Results {
				switch {
				case res.Err != nil:
					fmt.Printf("%s: failed: %v\n", res.Act, res.Err)
				case res.Rebuilt:
					fmt.Printf("%s: rebuilt, %d snapshot(s)\n", res.Act, res.Written)
				case res.Written == 0:
					fmt.Printf("%s: up to date\n", res.Act)
				default:
					fmt.Printf("%s: %d snapshot(s) written\n", res.Act, res.Written)
				}
			}
			fmt.Printf("run %s finished in %s\n", report.RunID, report.Finished.Sub(report.Started).Round(time.Millisecond))
			return report.Err()
		},
	}
	cmd.Flags().String("until", "", "recalculate up to this date (default today)")
	cmd.Flags().Int("parallelism", 0, "concurrent acts (default number of CPUs)")
	return cmd
}

// groupInputs pairs every act with the amendments targeting it,
// regardless of which source declared them.
func groupInputs(sources []ingest.Source) ([]recalc.Input, error) {
	byID := make(map[act.Identifier]int, len(sources))
	inputs := make([]recalc.Input, 0, len(sources))
	for _, src := range sources {
		byID[src.Act.ID] = len(inputs)
		inputs = append(inputs, recalc.Input{Act: *src.Act})
	}
	for _, src := range sources {
		for _, a := range src.Amendments {
			i, ok := byID[a.Subject]
			if !ok {
				return nil, fmt.Errorf("amendment %s targets unknown act %s", a.Actor, a.Subject)
			}
			inputs[i].Amendments = append(inputs[i].Amendments, a)
		}
	}
	return inputs, nil
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <act-id>",
		Short: "Print the act state in force at a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := act.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			at, err := parseDateFlag(cmd, "at", today())
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			state, cp, err := service.New(store).State(cmd.Context(), id, at)
			if err != nil {
				return err
			}
			if asText, _ := cmd.Flags().GetBool("text"); asText {
				fmt.Printf("%s  %s  (in force since %s)\n", state.ID, state.Title, cp.Date)
				return act.WriteText(os.Stdout, state.Root)
			}
			return printJSON(struct {
				Act     *act.Act `json:"act"`
				InForce act.Date `json:"in_force_since"`
				Note    string   `json:"note,omitempty"`
			}{state, cp.Date, cp.Note})
		},
	}
	cmd.Flags().String("at", "", "date of interest (default today)")
	cmd.Flags().Bool("text", false, "render the state as numbered text instead of JSON")
	return cmd
}

func changesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes <act-id>",
		Short: "List the act's change points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := act.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			points, err := service.New(store).ChangePoints(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(points) == 0 {
				fmt.Printf("no recorded states for %s\n", id)
				return nil
			}
			for _, line := range changeLines(points) {
				fmt.Println(line)
			}
			return nil
		},
	}
}

// changeLines renders one line per change point with the inclusive date
// range during which that state was in force. The latest state has an open
// range.
func changeLines(points []persistence.ChangePoint) []string {
	lines := make([]string, len(points))
	for i, cp := range points {
		note := cp.Note
		if note == "" {
			note = "(no note)"
		}
		end := ""
		if i+1 < len(points) {
			end = points[i+1].Date.Prev().String()
		}
		lines[i] = fmt.Sprintf("%s .. %-10s  %s", cp.Date, end, note)
	}
	return lines
}

func diffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <act-id>",
		Short: "Show what changed between two dates of an act",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := act.ParseIdentifier(args[0])
			if err != nil {
				return err
			}
			from, err := parseDateFlag(cmd, "from", act.Date{})
			if err != nil {
				return err
			}
			if from.IsZero() {
				return fmt.Errorf("--from is required")
			}
			to, err := parseDateFlag(cmd, "to", today())
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := service.New(store).Diff(cmd.Context(), id, from, to)
			if err != nil {
				return err
			}
			if len(res.Entries) == 0 {
				fmt.Printf("%s unchanged between %s and %s\n", id, from, to)
				return nil
			}
			fmt.Printf("%s: %s -> %s\n", id, res.From.Date, res.To.Date)
			for _, e := range res.Entries {
				fmt.Printf("  %-9s %s\n", e.Class, e.Path)
				for _, span := range e.TextDiff {
					switch span.Class {
					case diffengine.Removed:
						fmt.Printf("            - %s\n", span.Left)
					case diffengine.Added:
						fmt.Printf("            + %s\n", span.Right)
					case diffengine.Modified:
						fmt.Printf("            - %s\n            + %s\n", span.Left, span.Right)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().String("from", "", "older date (required)")
	cmd.Flags().String("to", "", "newer date (default today)")
	return cmd
}
