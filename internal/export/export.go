package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tasksync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	deadLetterSheet = "Dead letters"
	taskSheet       = "Tasks"
)

var (
	deadLetterHeaders = []string{"ID", "Entry", "Task", "Operation", "Attempts", "Error", "Failed at", "Payload"}
	taskHeaders       = []string{"ID", "Title", "Completed", "Deleted", "Sync status", "Server ID", "Updated at", "Last synced at"}
)

// Source is what a report reads from the local store.
type Source interface {
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error)
	ListTasks(ctx context.Context) ([]models.Task, error)
}

// Exporter writes operator reports as xlsx workbooks.
type Exporter struct {
	source Source
	dir    string
	logger *zerolog.Logger
	now    func() time.Time
}

func NewExporter(source Source, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{source: source, dir: dir, logger: logger, now: time.Now}
}

// ExportDeadLetters writes every dead letter plus the current task list and returns the file path.
func (e *Exporter) ExportDeadLetters(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	dead, err := e.source.ListDeadLetters(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("list dead letters: %w", err)
	}
	tasks, err := e.source.ListTasks(ctx)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	now := e.now()
	index, err := f.NewSheet(deadLetterSheet)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := writeTitle(f, deadLetterSheet, fmt.Sprintf("Dead letters as of %s", now.Format(time.RFC3339)), len(deadLetterHeaders)); err != nil {
		return "", err
	}
	if err := writeHeaders(f, deadLetterSheet, deadLetterHeaders); err != nil {
		return "", err
	}
	for i, dl := range dead {
		row := []any{
			dl.ID, dl.EntryID, dl.TaskID, dl.Operation.String(), dl.Attempts,
			dl.ErrorMessage, dl.FailedAt.Format(time.RFC3339), string(dl.Payload),
		}
		if err := writeRow(f, deadLetterSheet, i+3, row); err != nil {
			return "", err
		}
	}

	if _, err := f.NewSheet(taskSheet); err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	if err := writeTitle(f, taskSheet, fmt.Sprintf("Tasks as of %s", now.Format(time.RFC3339)), len(taskHeaders)); err != nil {
		return "", err
	}
	if err := writeHeaders(f, taskSheet, taskHeaders); err != nil {
		return "", err
	}
	for i, t := range tasks {
		lastSynced := ""
		if t.LastSyncedAt != nil {
			lastSynced = t.LastSyncedAt.Format(time.RFC3339)
		}
		row := []any{
			t.ID, t.Title, t.Completed, t.IsDeleted, string(t.SyncStatus),
			t.ServerIDOrEmpty(), t.UpdatedAt.Format(time.RFC3339), lastSynced,
		}
		if err := writeRow(f, taskSheet, i+3, row); err != nil {
			return "", err
		}
	}

	_ = f.DeleteSheet("Sheet1")

	path := filepath.Join(e.dir, fmt.Sprintf("deadletters_%s.xlsx", now.Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info().Str("file_path", path).Int("dead_letters", len(dead)).Int("tasks", len(tasks)).Msg("export written")
	return path, nil
}

func writeTitle(f *excelize.File, sheet, title string, width int) error {
	if err := f.SetCellValue(sheet, "A1", title); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(width, 1)
	if err != nil {
		return err
	}
	_ = f.MergeCell(sheet, "A1", last)

	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", "A1", style)
}

// writeHeaders fills row 2 with bold shaded column names.
func writeHeaders(f *excelize.File, sheet string, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return err
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", lastCol, 22)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
