// Copyright (c) 2025 Will Holley
//
// This file is part of couchcopy.
//
// couchcopy is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact the copyright holder for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/willholley/couchcopy/pkg/cli/client"
	"github.com/willholley/couchcopy/pkg/common"
	"github.com/willholley/couchcopy/pkg/replication"
)

// OutputFormat defines the output format type.
type OutputFormat string

const (
	FormatText  OutputFormat = "text"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
)

// OperationResult holds the result of an operation.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// FormatOperationResult formats an operation result in the specified format.
func FormatOperationResult(result *OperationResult, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(result)
	case FormatTable:
		return formatResultTable(result)
	default:
		return formatResultText(result)
	}
}

// FormatError formats an error message in the specified format.
func FormatError(err error, format OutputFormat) string {
	result := &OperationResult{
		Success: false,
		Error:   err.Error(),
	}
	return FormatOperationResult(result, format)
}

func formatResultText(result *OperationResult) string {
	if result.Success {
		if result.Message != "" {
			return result.Message + "\n"
		}
		return "Operation completed successfully\n"
	}
	return fmt.Sprintf("Error: %s\n", result.Error)
}

func formatResultTable(result *OperationResult) string {
	status, text := "SUCCESS", result.Message
	if !result.Success {
		status, text = "FAILED", result.Error
	}

	output := "┌────────────────────────────────────────────────────────┐\n"
	output += "│ Operation Result                                       │\n"
	output += "├────────────────────────────────────────────────────────┤\n"
	output += fmt.Sprintf("│ Status: %-47s │\n", status)
	if text != "" {
		for _, line := range wrapText(text, 54) {
			output += fmt.Sprintf("│ %-54s │\n", line)
		}
	}
	output += "└────────────────────────────────────────────────────────┘\n"
	return output
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": \"failed to marshal JSON: %s\"}\n", err)
	}
	return string(data) + "\n"
}

// FormatDatabaseInfo formats database metadata under label (Source, Target).
func FormatDatabaseInfo(label string, info *common.DatabaseInfo, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(map[string]any{"label": label, "database": info})
	case FormatTable:
		return formatDatabaseInfoTable(label, info)
	default:
		return formatDatabaseInfoText(label, info)
	}
}

func formatDatabaseInfoText(label string, info *common.DatabaseInfo) string {
	var output string
	output += fmt.Sprintf("%s: %s\n", label, info.Name)
	output += fmt.Sprintf("Doc Count: %d\n", info.DocCount)
	output += fmt.Sprintf("Deleted Doc Count: %d\n", info.DocDelCount)
	output += fmt.Sprintf("Active Size: %d\n", info.ActiveSize)
	output += fmt.Sprintf("Disk Size: %d\n", info.DiskSize)
	output += "\n"
	return output
}

func formatDatabaseInfoTable(label string, info *common.DatabaseInfo) string {
	var output string
	output += "┌───────────────────┬────────────────────────────────────┐\n"
	output += fmt.Sprintf("│ %-17s │ %-34s │\n", label, truncate(info.Name, 34))
	output += "├───────────────────┼────────────────────────────────────┤\n"
	output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Doc Count", info.DocCount)
	output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Deleted Doc Count", info.DocDelCount)
	output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Active Size", formatSize(info.ActiveSize))
	output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Disk Size", formatSize(info.DiskSize))
	if info.UpdateSeq != "" {
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Update Seq", truncate(info.UpdateSeq.String(), 34))
	}
	output += "└───────────────────┴────────────────────────────────────┘\n"
	return output
}

// FormatCheckpoint formats the checkpoint of target. cp is nil when none exists.
func FormatCheckpoint(target string, cp *common.Checkpoint, format OutputFormat) string {
	if cp == nil {
		if format == FormatJSON {
			return formatJSON(map[string]any{"target": target, "found": false})
		}
		return fmt.Sprintf("Checkpoint: no checkpoint found on %s\n", target)
	}

	switch format {
	case FormatJSON:
		return formatJSON(map[string]any{"target": target, "found": true, "checkpoint": cp})
	case FormatTable:
		var output string
		output += "┌───────────────────┬────────────────────────────────────┐\n"
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Target", truncate(target, 34))
		output += "├───────────────────┼────────────────────────────────────┤\n"
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Last Seq", truncate(cp.LastSeq.String(), 34))
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Revision", truncate(cp.Rev, 34))
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Updated", formatTime(cp.UpdatedAt))
		output += "└───────────────────┴────────────────────────────────────┘\n"
		return output
	default:
		var output string
		output += fmt.Sprintf("Checkpoint: found with since_seq %s\n", cp.LastSeq)
		output += fmt.Sprintf("Revision: %s\n", cp.Rev)
		output += fmt.Sprintf("Updated: %s\n", formatTime(cp.UpdatedAt))
		return output
	}
}

// FormatRunResult formats the summary of a finished replication run.
func FormatRunResult(result *replication.RunResult, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(map[string]any{
			"run_id":    result.RunID,
			"start_seq": result.StartSeq,
			"last_seq":  result.LastSeq,
			"batches":   result.Batches,
			"docs":      result.Docs,
			"end_state": result.EndState.String(),
			"duration":  result.Duration.String(),
		})
	case FormatTable:
		var output string
		output += "┌───────────────────┬────────────────────────────────────┐\n"
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Run", truncate(result.RunID, 34))
		output += "├───────────────────┼────────────────────────────────────┤\n"
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Start Seq", truncate(result.StartSeq.String(), 34))
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Last Seq", truncate(result.LastSeq.String(), 34))
		output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Batches", result.Batches)
		output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Docs", result.Docs)
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "End State", result.EndState.String())
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Duration", formatDuration(result.Duration))
		output += "└───────────────────┴────────────────────────────────────┘\n"
		return output
	default:
		return fmt.Sprintf("Run %s finished (%s): %d docs in %d batches, %s -> %s in %s\n",
			result.RunID, result.EndState, result.Docs, result.Batches,
			result.StartSeq, result.LastSeq, formatDuration(result.Duration))
	}
}

// FormatStatus formats the health and status read from the copy at addr.
func FormatStatus(addr string, health *client.Health, status *client.Status, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return formatJSON(map[string]any{"address": addr, "health": health, "status": status})
	case FormatTable:
		var output string
		output += "┌───────────────────┬────────────────────────────────────┐\n"
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Address", truncate(addr, 34))
		output += "├───────────────────┼────────────────────────────────────┤\n"
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Health", health.Status)
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "State", status.State)
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Version", truncate(status.Version, 34))
		output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Runs", status.Runs)
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Last Seq", truncate(status.LastSeq.String(), 34))
		output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Docs", status.Metrics.Docs)
		output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Conflicts", status.Metrics.Conflicts)
		output += fmt.Sprintf("│ %-17s │ %-34d │\n", "Errors", status.Metrics.Errors)
		output += fmt.Sprintf("│ %-17s │ %-34s │\n", "Last Write", formatTime(status.Metrics.LastWriteTime))
		output += "└───────────────────┴────────────────────────────────────┘\n"
		return output
	default:
		var output string
		output += fmt.Sprintf("Copy at %s is %s (state %s, version %s)\n", addr, health.Status, status.State, status.Version)
		output += fmt.Sprintf("Runs: %d, last seq %s\n", status.Runs, status.LastSeq)
		output += fmt.Sprintf("Docs: %d (%d inserted, %d updated, %d dropped, %d conflicts, %d errors)\n",
			status.Metrics.Docs, status.Metrics.Inserted, status.Metrics.Updated,
			status.Metrics.Dropped, status.Metrics.Conflicts, status.Metrics.Errors)
		output += fmt.Sprintf("Last write: %s\n", formatTime(status.Metrics.LastWriteTime))
		if status.LastResult != nil {
			output += FormatRunResult(status.LastResult, format)
		}
		return output
	}
}

// formatSize formats a byte count using binary units.
func formatSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}

// formatDuration formats a time.Duration into a human-readable string.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours > 0 {
		return fmt.Sprintf("%d hours", hours)
	}
	minutes := int(d.Minutes())
	if minutes > 0 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return fmt.Sprintf("%.0f seconds", d.Seconds())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

// wrapText wraps text to fit within maxWidth characters.
func wrapText(text string, maxWidth int) []string {
	if len(text) <= maxWidth {
		return []string{text}
	}

	// Check if text has no spaces - need to hard wrap
	if !strings.Contains(text, " ") {
		var lines []string
		for len(text) > maxWidth {
			lines = append(lines, text[:maxWidth])
			text = text[maxWidth:]
		}
		if len(text) > 0 {
			lines = append(lines, text)
		}
		return lines
	}

	// Text has spaces - wrap at word boundaries
	var lines []string
	var currentLine string
	for _, word := range strings.Fields(text) {
		if len(currentLine) == 0 {
			currentLine = word
		} else if len(currentLine)+1+len(word) <= maxWidth {
			currentLine += " " + word
		} else {
			lines = append(lines, currentLine)
			currentLine = word
		}
	}
	if len(currentLine) > 0 {
		lines = append(lines, currentLine)
	}
	return lines
}
