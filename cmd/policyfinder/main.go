package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/coolbeans/policyfinder/internal/logger"
	"github.com/coolbeans/policyfinder/pkg/clause"
	"github.com/coolbeans/policyfinder/pkg/config"
	"github.com/coolbeans/policyfinder/pkg/crawler"
	"github.com/coolbeans/policyfinder/pkg/doctext"
	"github.com/coolbeans/policyfinder/pkg/pipeline"
	"github.com/coolbeans/policyfinder/pkg/policy"
	"github.com/coolbeans/policyfinder/pkg/search"
	"github.com/coolbeans/policyfinder/pkg/server"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "policyfinder",
		Short: "Regulatory policy search and clause extraction",
		Long: `Policyfinder tracks regulator listing pages, downloads policy
documents, and answers clause-level questions about them.

It provides:
  - A listing crawler with persistent per-task state files
  - A text-extraction pipeline turning PDF/Word/HTML sources into text
  - Fuzzy title search over every tracked policy
  - Clause extraction (第N条第N款第N项) from the best source document
  - An HTTP API serving search and clause lookups`,
		Version: version,
	}

	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(clauseCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the named config file, or discovers one by walking
// up from the working directory.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Discover(".")
}

// statePaths resolves the state files to search: explicit --state
// flags win, otherwise every configured task contributes its state
// file.
func statePaths(cfg *config.Config, flags []string) ([]string, error) {
	if len(flags) > 0 {
		return flags, nil
	}
	paths := cfg.StatePaths()
	if len(paths) == 0 {
		return nil, fmt.Errorf("no state files: pass --state or configure tasks in %s", config.DefaultFilename)
	}
	return paths, nil
}

// extractorBases returns the directories document paths resolve
// against: each state file's directory plus the artifact root.
func extractorBases(cfg *config.Config, paths []string) []string {
	var bases []string
	seen := make(map[string]bool)
	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		bases = append(bases, dir)
	}
	for _, path := range paths {
		add(filepath.Dir(path))
	}
	add(cfg.ArtifactPath())
	return bases
}

func newFinder(paths []string) (*search.Finder, error) {
	finder, err := search.NewFinder(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load state files: %w", err)
	}
	return finder, nil
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search tracked policies by title",
		Long: `Search every tracked policy by title, document number and year.

Example:
  policyfinder search "商业银行互联网贷款"
  policyfinder search --topk 3 --format json "银发〔2023〕17号"
  policyfinder search --state downloads/pbc_state.json "外包风险"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			stateFlags, _ := cmd.Flags().GetStringSlice("state")
			topk, _ := cmd.Flags().GetInt("topk")
			formatStr, _ := cmd.Flags().GetString("format")

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			paths, err := statePaths(cfg, stateFlags)
			if err != nil {
				return err
			}
			finder, err := newFinder(paths)
			if err != nil {
				return err
			}

			hits := finder.Search(args[0], topk)
			if formatStr == "json" {
				payloads := make([]map[string]any, 0, len(hits))
				for _, hit := range hits {
					payloads = append(payloads, map[string]any{
						"score":  hit.Score,
						"policy": hit.Entry.Payload(true),
					})
				}
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				encoder.SetEscapeHTML(false)
				return encoder.Encode(payloads)
			}

			if len(hits) == 0 {
				fmt.Println("No matching policies.")
				return nil
			}
			for i, hit := range hits {
				fmt.Printf("%2d. [%6.1f] %s\n", i+1, hit.Score, hit.Entry.Title)
				if hit.Entry.DocNo != "" || hit.Entry.Year != "" {
					fmt.Printf("      doc_no: %s  year: %s\n", hit.Entry.DocNo, hit.Entry.Year)
				}
				if hit.Entry.BestPath != "" {
					fmt.Printf("      source: %s\n", hit.Entry.BestPath)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("config", "", "Config file path (default: discover policyfinder.yaml)")
	cmd.Flags().StringSliceP("state", "s", nil, "State file(s) to search (default: all configured tasks)")
	cmd.Flags().IntP("topk", "k", 5, "Number of results")
	cmd.Flags().StringP("format", "f", "text", "Output format (text, json)")

	return cmd
}

func clauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clause",
		Short: "Extract a clause from the best-matching policy",
		Long: `Find the policy best matching --title and extract the clause named
by --item from its best source document.

Example:
  policyfinder clause --title "互联网贷款管理" --item "第三条"
  policyfinder clause --title "外包风险" --item "第五条第一款（二）项" --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			stateFlags, _ := cmd.Flags().GetStringSlice("state")
			title, _ := cmd.Flags().GetString("title")
			item, _ := cmd.Flags().GetString("item")
			formatStr, _ := cmd.Flags().GetString("format")

			if title == "" || item == "" {
				return fmt.Errorf("--title and --item flags are required")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			paths, err := statePaths(cfg, stateFlags)
			if err != nil {
				return err
			}
			finder, err := newFinder(paths)
			if err != nil {
				return err
			}

			loader := doctext.NewLoader(pdfExtractor{})
			extractor := clause.NewExtractor(loader, extractorBases(cfg, paths))
			lookup := clause.NewLookup(finder, extractor)

			match, code := lookup.Find(title, item)
			if match == nil {
				return fmt.Errorf("clause lookup failed: %s", code)
			}

			if formatStr == "json" {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				encoder.SetEscapeHTML(false)
				return encoder.Encode(map[string]any{
					"policy": match.Entry.Payload(false),
					"score":  match.Score,
					"result": match.Result,
				})
			}

			fmt.Printf("Policy: %s (score %.1f)\n", match.Entry.Title, match.Score)
			if match.Result.SourcePath != "" {
				fmt.Printf("Source: %s (%s)\n", match.Result.SourcePath, match.Result.DocumentType)
			}
			text := match.Result.ItemText
			if text == "" {
				text = match.Result.ParagraphText
			}
			if text == "" {
				text = match.Result.ArticleText
			}
			if text == "" {
				return fmt.Errorf("clause not found: %s", match.Result.Error)
			}
			if code != "" {
				fmt.Printf("Warning: %s (showing the closest enclosing level)\n", code)
			}
			fmt.Println()
			fmt.Println(text)
			return nil
		},
	}

	cmd.Flags().String("config", "", "Config file path (default: discover policyfinder.yaml)")
	cmd.Flags().StringSliceP("state", "s", nil, "State file(s) to search (default: all configured tasks)")
	cmd.Flags().StringP("title", "t", "", "Policy title to match")
	cmd.Flags().StringP("item", "i", "", "Clause reference, e.g. 第三条第一款（二）项")
	cmd.Flags().StringP("format", "f", "text", "Output format (text, json)")

	return cmd
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run the text-extraction pipeline over a crawl state",
		Long: `Extract plain text from every entry's best source document and
record the text artifacts back into the state file.

Example:
  policyfinder extract --task pbc_rules
  policyfinder extract --state downloads/pbc_state.json --output extracted/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			taskName, _ := cmd.Flags().GetString("task")
			statePath, _ := cmd.Flags().GetString("state")
			outputDir, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if taskName != "" {
				task, ok := cfg.TaskByName(taskName)
				if !ok {
					return fmt.Errorf("unknown task: %s", taskName)
				}
				if statePath == "" {
					statePath = cfg.StatePath(task)
				}
				if outputDir == "" {
					outputDir = cfg.ExtractDir(task)
				}
			}
			if statePath == "" {
				return fmt.Errorf("--task or --state flag is required")
			}
			if outputDir == "" {
				outputDir = filepath.Join(filepath.Dir(statePath), "extracted")
			}

			state, err := policy.LoadState(statePath)
			if err != nil {
				return fmt.Errorf("failed to load state %s: %w", statePath, err)
			}

			log := logger.New(logger.Config{Level: cfg.Logging.Level, Console: true})
			pipe := pipeline.New(pdfExtractor{})
			pipe.SetLogger(log)

			fmt.Printf("Extracting text for %d entries from %s\n", len(state.Entries), statePath)
			startTime := time.Now()
			report, err := pipe.Process(state, outputDir, statePath)
			if err != nil {
				return fmt.Errorf("pipeline failed: %w", err)
			}
			if err := state.Save(statePath); err != nil {
				return fmt.Errorf("failed to save state: %w", err)
			}

			byStatus := make(map[string]int)
			for _, record := range report.Records {
				byStatus[record.Status]++
			}
			fmt.Printf("Done in %v\n", time.Since(startTime))
			for _, status := range []string{"success", "needs_ocr", "empty", "error", "no_source"} {
				if byStatus[status] > 0 {
					fmt.Printf("  %-10s %d\n", status, byStatus[status])
				}
			}
			if ocr := report.PdfNeedsOCR(); len(ocr) > 0 {
				fmt.Println("\nPDF sources needing OCR:")
				for _, record := range ocr {
					fmt.Printf("  - %s (%s)\n", record.Title, record.SourcePath)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("config", "", "Config file path (default: discover policyfinder.yaml)")
	cmd.Flags().String("task", "", "Configured task whose state to process")
	cmd.Flags().StringP("state", "s", "", "State file to process")
	cmd.Flags().StringP("output", "o", "", "Directory for text artifacts")

	return cmd
}

func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass over configured listing tasks",
		Long: `Walk each task's listing pages, register newly published policies,
and download attachments not seen before. State is persisted after
every download, so an interrupted run loses nothing.

Example:
  policyfinder crawl
  policyfinder crawl --task pbc_rules
  policyfinder crawl --cached-pages`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			taskName, _ := cmd.Flags().GetString("task")
			cachedPages, _ := cmd.Flags().GetBool("cached-pages")

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			tasks := cfg.Tasks
			if taskName != "" {
				task, ok := cfg.TaskByName(taskName)
				if !ok {
					return fmt.Errorf("unknown task: %s", taskName)
				}
				tasks = []config.Task{task}
			}
			if len(tasks) == 0 {
				return fmt.Errorf("no tasks configured in %s", config.DefaultFilename)
			}

			log := logger.New(logger.Config{Level: cfg.Logging.Level, Console: true})
			fetcher := crawler.NewFetcher(
				secondsToDuration(cfg.Crawler.DelaySeconds),
				secondsToDuration(cfg.Crawler.JitterSeconds),
				secondsToDuration(cfg.Crawler.TimeoutSeconds),
			)
			archive, err := crawler.OpenArchive(cfg.ArchivePath())
			if err != nil {
				return fmt.Errorf("failed to open crawl archive: %w", err)
			}
			defer archive.Close()

			monitor := crawler.NewMonitor(fetcher, nil, archive)
			monitor.SetLogger(log)

			for _, task := range tasks {
				fmt.Printf("Crawling task: %s\n", task.Name)
				report, err := monitor.Run(cmd.Context(), crawler.Task{
					Name:           task.Name,
					StartURL:       task.StartURL,
					OutputDir:      cfg.DownloadsDir(task),
					StatePath:      cfg.StatePath(task),
					PageCacheDir:   cfg.PagesDir(task),
					UseCachedPages: cachedPages,
					AllowedTypes:   task.DownloadTypes,
					VerifyLocal:    task.VerifyLocal,
				})
				if report != nil {
					fmt.Printf("  pages: %d  entries: %d  downloaded: %d  skipped: %d  failed: %d\n",
						report.Pages, report.Entries, len(report.Downloaded), report.Skipped, report.Failed)
					for _, name := range report.Downloaded {
						fmt.Printf("  + %s\n", name)
					}
				}
				if err != nil {
					return fmt.Errorf("task %s failed: %w", task.Name, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("config", "", "Config file path (default: discover policyfinder.yaml)")
	cmd.Flags().String("task", "", "Crawl only the named task")
	cmd.Flags().Bool("cached-pages", false, "Reuse cached listing pages instead of fetching")

	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and clause HTTP API",
		Long: `Serve /search, /clause, /health and /metrics over HTTP.

Example:
  policyfinder serve
  policyfinder serve --port 9000 --watch
  policyfinder serve --state downloads/pbc_state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			stateFlags, _ := cmd.Flags().GetStringSlice("state")
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			watch, _ := cmd.Flags().GetBool("watch")

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			paths, err := statePaths(cfg, stateFlags)
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			log := logger.New(logger.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
			finder, err := newFinder(paths)
			if err != nil {
				return err
			}
			finder.SetLogger(log)
			if watch {
				if err := finder.Watch(); err != nil {
					return fmt.Errorf("failed to watch state files: %w", err)
				}
				defer finder.StopWatch()
			}

			loader := doctext.NewLoader(pdfExtractor{})
			extractor := clause.NewExtractor(loader, extractorBases(cfg, paths))

			srv := server.New(finder, extractor)
			srv.SetLogger(log)

			addr := fmt.Sprintf("%s:%d", host, port)
			fmt.Printf("Serving %d policies at http://%s\n", finder.Count(), addr)
			fmt.Println(strings.Join([]string{
				"  GET  /search?query=...",
				"  POST /search",
				"  GET  /clause?title=...&item=...",
				"  POST /clause",
				"  GET  /health",
				"  GET  /metrics",
			}, "\n"))
			return srv.ListenAndServe(addr)
		},
	}

	cmd.Flags().String("config", "", "Config file path (default: discover policyfinder.yaml)")
	cmd.Flags().StringSliceP("state", "s", nil, "State file(s) to serve (default: all configured tasks)")
	cmd.Flags().String("host", "", "Bind host (default from config)")
	cmd.Flags().Int("port", 0, "Bind port (default from config)")
	cmd.Flags().Bool("watch", false, "Reload state files when they change on disk")

	return cmd
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
