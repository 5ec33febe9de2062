package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/polarops/snowdesk/internal/app"
	"github.com/polarops/snowdesk/internal/config"
	"github.com/polarops/snowdesk/internal/knowledge"
	"github.com/polarops/snowdesk/internal/log"
)

var faqsFile string

var faqsCmd = &cobra.Command{
	Use:   "faqs",
	Short: "Manage the FAQ knowledge base",
}

var faqsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load FAQ entries from a JSON file",
	Long: `Load FAQ entries from a JSON file into the knowledge base.

The file holds an array of objects with "question" and "answer" fields
and optional "id" and "source". Entries with an existing id are updated
in place, so reloading a file is safe.`,
	RunE: runFaqsLoad,
}

var faqsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of FAQ entries",
	RunE:  runFaqsCount,
}

func init() {
	faqsLoadCmd.Flags().StringVar(&faqsFile, "file", "", "path to the FAQ JSON file (required)")
	_ = faqsLoadCmd.MarkFlagRequired("file")
	faqsCmd.AddCommand(faqsLoadCmd)
	faqsCmd.AddCommand(faqsCountCmd)
	rootCmd.AddCommand(faqsCmd)
}

// faqEntry is the JSON shape of one FAQ file entry.
type faqEntry struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source"`
}

func runFaqsLoad(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(faqsFile)
	if err != nil {
		return fmt.Errorf("reading FAQ file: %w", err)
	}

	var entries []faqEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing FAQ file: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("FAQ file %s contains no entries", faqsFile)
	}

	ctx, a, err := setupFromConfig(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	loaded := 0
	for i, e := range entries {
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			return fmt.Errorf("entry %d: question and answer are required", i)
		}
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		faq := knowledge.FAQ{
			ID:       id,
			Question: e.Question,
			Answer:   e.Answer,
			Source:   e.Source,
		}
		if err := a.Knowledge.Add(ctx, faq); err != nil {
			return fmt.Errorf("entry %d (%q): %w", i, e.Question, err)
		}
		loaded++
	}

	fmt.Printf("Loaded %d FAQ entries from %s\n", loaded, faqsFile)
	return nil
}

func runFaqsCount(cmd *cobra.Command, args []string) error {
	ctx, a, err := setupFromConfig(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	n, err := a.Knowledge.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting FAQ entries: %w", err)
	}
	fmt.Printf("%d FAQ entries\n", n)
	return nil
}

// setupFromConfig loads configuration and builds the application container.
func setupFromConfig(cmd *cobra.Command) (context.Context, *app.App, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing application: %w", err)
	}
	return ctx, a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("shutdown error", "error", err)
	}
}
