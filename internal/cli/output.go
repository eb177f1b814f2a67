package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/CanopyNet/canopy-core/internal/progress"
)

type OutputOptions struct {
	Format   string
	Filename string
}

type OutputManager struct{}

func NewOutputManager() *OutputManager {
	return &OutputManager{}
}

func (om *OutputManager) Output(results []UploadResult, options OutputOptions) error {
	var output string
	var err error

	switch options.Format {
	case "json":
		output, err = om.JSON(results)
	case "csv":
		output, err = om.CSV(results)
	case "table":
		output = om.Table(results)
	default:
		return fmt.Errorf("unsupported output format: %s", options.Format)
	}

	if err != nil {
		return err
	}

	if options.Filename != "" {
		return os.WriteFile(options.Filename, []byte(output), 0644)
	}

	fmt.Print(output)
	return nil
}

func (om *OutputManager) JSON(results []UploadResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	return string(data), err
}

func (om *OutputManager) CSV(results []UploadResult) (string, error) {
	var lines []string
	lines = append(lines, "Status,File,Size,SHA256,Duration(ms),Duplicate,Error")

	for _, result := range results {
		line := fmt.Sprintf("%s,%s,%d,%s,%.0f,%t,%s",
			result.Status,
			escapeCSV(result.File),
			result.Size,
			result.SHA256,
			result.Duration.Seconds()*1000,
			result.Duplicate,
			escapeCSV(result.Error))
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n"), nil
}

func (om *OutputManager) Table(results []UploadResult) string {
	var lines []string

	// Header
	lines = append(lines, fmt.Sprintf("%-10s %-40s %-10s %-14s %-10s %-40s",
		"STATUS", "FILE", "SIZE", "SHA256", "TIME(ms)", "ERROR"))
	lines = append(lines, strings.Repeat("-", 130))

	// Results
	for _, result := range results {
		digest := result.SHA256
		if len(digest) > 12 {
			digest = digest[:12]
		}

		line := fmt.Sprintf("%-10s %-40s %-10s %-14s %-10.0f %-40s",
			result.Status,
			truncateString(result.File, 40),
			progress.FormatBytes(result.Size),
			digest,
			result.Duration.Seconds()*1000,
			truncateString(result.Error, 40))
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n") + "\n"
}

type SummaryPrinter struct{}

func NewSummaryPrinter() *SummaryPrinter {
	return &SummaryPrinter{}
}

// PrintSummary prints the final figures of an upload run
func (sp *SummaryPrinter) PrintSummary(report *UploadReport) {
	total := len(report.Results)
	completed := 0
	failed := 0
	duplicates := 0
	var bytes int64

	for _, result := range report.Results {
		switch result.Status {
		case UploadStatusCompleted:
			completed++
			bytes += result.Size
		default:
			failed++
		}
		if result.Duplicate {
			duplicates++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("UPLOAD SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Session: %s\n", report.SessionID)
	fmt.Printf("Files: %d/%d transferred\n", completed, total)
	if failed > 0 {
		fmt.Printf("Failed: %d\n", failed)
	}
	if duplicates > 0 {
		fmt.Printf("Duplicates on server: %d\n", duplicates)
	}
	fmt.Printf("Bytes: %s\n", progress.FormatBytes(bytes))
	if report.Duration > 0 {
		fmt.Printf("Duration: %s\n", progress.FormatDuration(report.Duration))
		rate := float64(bytes) / report.Duration.Seconds()
		fmt.Printf("Average speed: %s/s\n", progress.FormatBytes(int64(rate)))
	}

	for _, result := range report.Results {
		if result.Status == UploadStatusFailed {
			fmt.Printf("  failed: %s: %s\n", result.File, result.Error)
		}
	}
}

// Utility functions
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func escapeCSV(s string) string {
	if strings.Contains(s, ",") || strings.Contains(s, "\"") || strings.Contains(s, "\n") {
		s = strings.ReplaceAll(s, "\"", "\"\"")
		return "\"" + s + "\""
	}
	return s
}
