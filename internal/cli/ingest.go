package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docqa/internal/adapter/fs"
	"docqa/internal/adapter/loader"
	"docqa/internal/usecase"
)

var (
	ingestID       string
	ingestExcludes []string
	ingestJSON     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Ingest documents",
	Long: `Extract, chunk and embed files so they can be queried.
Directories are walked recursively for supported file types.

Examples:
  docqa ingest manual.pdf
  docqa ingest ./docs --exclude "**/drafts/**"
  docqa ingest notes.md --id team-notes`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id (single file only; default is a new UUID)")
	ingestCmd.Flags().StringSliceVar(&ingestExcludes, "exclude", nil, "glob patterns to skip")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output as JSON")
}

type ingestOutput struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks"`
	Error      string `json:"error,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	walker := fs.NewWalker(fs.IncludeExtensions(loader.New().Supported()), slices.Concat(fs.DefaultExcludes, ingestExcludes))
	files, err := walker.WalkAll(args)
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported files found")
	}
	if ingestID != "" && len(files) > 1 {
		return fmt.Errorf("--id needs exactly one file, found %d", len(files))
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	if !ingestJSON {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	start := time.Now()
	results := make([]ingestOutput, 0, len(files))
	failed := 0
	for _, f := range files {
		out := ingestOutput{Path: f.Path}
		data, err := os.ReadFile(f.Path)
		if err == nil {
			var res *usecase.IngestResult
			res, err = a.service.Ingest(cmd.Context(), usecase.IngestRequest{
				DocumentID: ingestID,
				Filename:   filepath.Base(f.Path),
				Data:       data,
			})
			if err == nil {
				out.DocumentID = res.Document.ID
				out.Chunks = res.ChunkCount
			}
		}
		if err != nil {
			out.Error = err.Error()
			failed++
		}
		results = append(results, out)
		if bar != nil {
			bar.Add(1)
		}
	}

	if ingestJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\nIngestion complete in %s:\n", formatDuration(time.Since(start)))
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("  FAIL %s: %s\n", r.Path, r.Error)
				continue
			}
			fmt.Printf("  %s  %s (%d chunks)\n", r.DocumentID, r.Path, r.Chunks)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
