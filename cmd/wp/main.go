// wp is the command-line interface for the weekly plan companion.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/weeklyplan/weeklyplan/internal/app"
	"github.com/weeklyplan/weeklyplan/internal/config"
	"github.com/weeklyplan/weeklyplan/internal/core"
	"github.com/weeklyplan/weeklyplan/internal/logging"
	"github.com/weeklyplan/weeklyplan/internal/memory"
	"github.com/weeklyplan/weeklyplan/internal/notifications"
	"github.com/weeklyplan/weeklyplan/internal/storage"
)

var (
	// Config
	configPath string
	dataDir    string
	jsonOutput bool

	// Version
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wp",
		Short: "Weekly plan companion CLI",
		Long: `wp inspects and maintains the local state of the weekly plan companion:
behavioral memory, the notification checks and the configuration file.

Output is human-readable on a terminal and JSON otherwise.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "force JSON output")

	// Commands
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(notifyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// cliLogger keeps engine chatter off stdout so JSON output stays parseable.
func cliLogger(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil || level < logging.WARN {
		level = logging.WARN
	}
	return logging.New(os.Stderr, level, term.IsTerminal(int(os.Stderr.Fd())))
}

func interactive() bool {
	return !jsonOutput && term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openMemory opens the configured store and loads the memory engine without
// starting a session.
func openMemory(ctx context.Context, cfg *config.Config) (*memory.Engine, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	log := cliLogger(cfg)
	store, err := storage.OpenKV(storage.KVConfig{
		Backend: cfg.Storage.Backend,
		Path:    cfg.StoragePath(),
		Logger:  log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	eng := memory.New(memory.Config{
		Store:      store,
		StorageKey: cfg.Memory.StorageKey,
		Logger:     log,
	})
	eng.Load(ctx)
	return eng, store.Close, nil
}

// schemaVersion reports the SQLite schema version, 0 for other backends.
func schemaVersion(ctx context.Context, cfg *config.Config) int {
	if cfg.Storage.Backend != "sqlite" {
		return 0
	}
	db, err := storage.Open(storage.Config{Path: cfg.StoragePath(), Logger: cliLogger(cfg)})
	if err != nil {
		return 0
	}
	defer db.Close()
	v, err := db.SchemaVersion(ctx)
	if err != nil {
		return 0
	}
	return v
}

// initCmd writes a config file
func initCmd() *cobra.Command {
	var backend string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with defaults",
		Long: `Creates the config file for the weekly plan companion.

The API token is never written to disk. Provide it through
WEEKLYPLAN_API_TOKEN when running the daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			path := configPath
			if path == "" {
				path = filepath.Join(cfg.DataDir, "config.json")
			}

			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("Config already exists at %s (use --force to overwrite)\n", path)
				return nil
			}

			cfg.Storage.Backend = backend
			if term.IsTerminal(int(os.Stdin.Fd())) {
				reader := bufio.NewReader(os.Stdin)
				fmt.Printf("Weekly plan API URL [%s]: ", cfg.Upstream.BaseURL)
				url, _ := reader.ReadString('\n')
				if url = strings.TrimSpace(url); url != "" {
					cfg.Upstream.BaseURL = url
				}
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "storage", "sqlite", "storage backend: sqlite, badger or memory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// statusCmd shows configuration and memory status
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and memory status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, closeStore, err := openMemory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			report := eng.GetIntelligenceReport()
			period := core.PeriodOf(time.Now())
			schema := schemaVersion(cmd.Context(), cfg)

			if !interactive() {
				return printJSON(map[string]interface{}{
					"period":   period,
					"storage":  cfg.Storage.Backend,
					"path":     cfg.StoragePath(),
					"upstream": cfg.Upstream.BaseURL,
					"schema":   schema,
					"usage":    report.UsageStats,
				})
			}

			fmt.Println("Weekly plan companion")
			fmt.Println()
			fmt.Printf("   Week:      %s\n", period)
			fmt.Printf("   Storage:   %s (%s)\n", cfg.Storage.Backend, cfg.StoragePath())
			if schema > 0 {
				fmt.Printf("   Schema:    version %d\n", schema)
			}
			fmt.Printf("   Upstream:  %s\n", cfg.Upstream.BaseURL)
			fmt.Printf("   Sessions:  %d\n", report.UsageStats.TotalSessions)
			fmt.Printf("   History:   %d items (%d today)\n", report.UsageStats.TotalHistoryItems, report.UsageStats.TodayActivity)
			return nil
		},
	}
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wp %s\n", version)
		},
	}
}

// memoryCmd handles memory operations
func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Behavioral memory operations",
	}

	// memory report
	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Show the intelligence report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, closeStore, err := openMemory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			report := eng.GetIntelligenceReport()
			if !interactive() {
				return printJSON(report)
			}
			printReport(os.Stdout, report)
			return nil
		},
	})

	// memory history
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent history records",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			action, _ := cmd.Flags().GetString("action")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, closeStore, err := openMemory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			items := eng.GetHistoryRecords(limit, action)
			if !interactive() {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println("No history recorded.")
				return nil
			}
			for _, h := range items {
				ts := time.UnixMilli(h.Timestamp).Format("2006-01-02 15:04")
				fmt.Printf("   %s  %-20s %s\n", ts, h.Action, h.Page)
			}
			return nil
		},
	}
	historyCmd.Flags().Int("limit", 20, "maximum records")
	historyCmd.Flags().String("action", "", "only this action")
	cmd.AddCommand(historyCmd)

	// memory export
	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Export memory as JSON (stdout when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, closeStore, err := openMemory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			data, err := eng.ExportMemoryData()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err = os.Stdout.Write(append(out, '\n'))
				return err
			}
			if err := os.WriteFile(args[0], out, 0600); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported memory to %s\n", args[0])
			return nil
		},
	})

	// memory import
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import memory from an export file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if args[0] == "-" {
				raw, err = io.ReadAll(os.Stdin)
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, closeStore, err := openMemory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			res := eng.ImportMemoryData(cmd.Context(), raw)
			if res.Error != "" {
				return fmt.Errorf("import failed: %s", res.Error)
			}
			if !interactive() {
				return printJSON(res)
			}
			fmt.Printf("Imported: %s\n", strings.Join(res.Applied, ", "))
			if len(res.Skipped) > 0 {
				fmt.Printf("Skipped:  %s\n", strings.Join(res.Skipped, ", "))
			}
			return nil
		},
	})

	// memory clear
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset all memory to defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("refusing to clear memory without --yes")
				}
				fmt.Print("This erases history, preferences and recommendations. Continue? [y/N] ")
				answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, closeStore, err := openMemory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			eng.ClearAllMemory(cmd.Context())
			fmt.Println("Memory cleared.")
			return nil
		},
	}
	clearCmd.Flags().Bool("yes", false, "skip confirmation")
	cmd.AddCommand(clearCmd)

	return cmd
}

// notifyCmd runs notification checks against the upstream API
func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification checks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "check [tasks|delayed|review|team]",
		Short:     "Run a notification check once and print what it raised",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"tasks", "delayed", "review", "team"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "tasks"
			if len(args) == 1 {
				kind = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, app.Options{Logger: cliLogger(cfg)})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.Memory.Load(ctx)

			var raised []notifications.Notification
			switch kind {
			case "tasks":
				raised, err = a.CheckTasks(ctx)
			case "delayed":
				raised, err = a.CheckDelayed(ctx)
			case "review":
				if n, ok := a.ReviewReminder(); ok {
					raised = append(raised, n)
				}
			case "team":
				var pending int
				pending, err = a.TeamReviewReminder(ctx)
				if err == nil && pending > 0 {
					raised = a.Notifications.List(notifications.Filter{Type: notifications.TypeTeamReview})
				}
			default:
				return fmt.Errorf("unknown check %q", kind)
			}
			if err != nil {
				return err
			}

			if !interactive() {
				if raised == nil {
					raised = []notifications.Notification{}
				}
				return printJSON(raised)
			}
			if len(raised) == 0 {
				fmt.Println("Nothing to report.")
				return nil
			}
			for _, n := range raised {
				fmt.Printf("   [%s] %s\n", n.Priority, n.Title)
				if n.Message != "" {
					fmt.Printf("          %s\n", n.Message)
				}
			}
			return nil
		},
	})

	return cmd
}

func printReport(w io.Writer, r memory.IntelligenceReport) {
	fmt.Fprintln(w, "Intelligence report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "   Sessions:        %d\n", r.UsageStats.TotalSessions)
	fmt.Fprintf(w, "   History items:   %d\n", r.UsageStats.TotalHistoryItems)
	fmt.Fprintf(w, "   Today:           %d\n", r.UsageStats.TodayActivity)
	if h := r.BehaviorInsights.MostActiveHour; h != nil {
		fmt.Fprintf(w, "   Most active:     %02d:00\n", *h)
	}
	if len(r.BehaviorInsights.TopTaskTypes) > 0 {
		fmt.Fprintln(w, "\n   Top task types")
		for _, t := range r.BehaviorInsights.TopTaskTypes {
			fmt.Fprintf(w, "      %-16s %3d  avg %.0f min\n", t.TaskType, t.Count, t.AverageDuration)
		}
	}
	if len(r.BehaviorInsights.MostVisitedPages) > 0 {
		fmt.Fprintln(w, "\n   Most visited pages")
		for _, p := range r.BehaviorInsights.MostVisitedPages {
			fmt.Fprintf(w, "      %-24s %3d\n", p.Page, p.Visits)
		}
	}
	fmt.Fprintf(w, "\n   Recommendations: %d\n", r.Recommendations.TotalCount)
	fmt.Fprintf(w, "   Snapshot size:   %d bytes\n", r.SystemInfo.StorageSize)
}
