// Package export writes occupancy reports for temple administrators.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"darshan/internal/database"
	"darshan/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Occupancy"

type ExcelExporter struct {
	db     *database.DB
	dir    string
	logger *zerolog.Logger
}

func NewExcelExporter(db *database.DB, dir string, logger *zerolog.Logger) *ExcelExporter {
	return &ExcelExporter{db: db, dir: dir, logger: logger}
}

// OccupancyReport writes one row per slot in the date range with its
// headcounts and per-visitor detail, and returns the file path.
func (e *ExcelExporter) OccupancyReport(ctx context.Context, startDate, endDate string) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	slots, err := e.db.ListSlotsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting slots: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Darshan occupancy: %s to %s", startDate, endDate))
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	_ = f.MergeCell(sheetName, "A1", "G1")

	headers := []string{"Date", "Slot", "Capacity", "Booked", "Available", "Checked in", "Visitors"}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	row := 3
	for _, slot := range slots {
		bookings, err := e.db.ListBookingsBySlot(ctx, slot.ID)
		if err != nil {
			return "", fmt.Errorf("error getting bookings for slot %s: %w", slot.ID, err)
		}

		checkedIn := int64(0)
		var detail string
		for _, b := range bookings {
			if b.Status == models.StatusCancelled {
				continue
			}
			if b.Status == models.StatusCheckedIn {
				checkedIn += b.NumberOfPeople
			}
			detail += fmt.Sprintf("%s x%d (%s)\n", b.Name, b.NumberOfPeople, b.Status)
		}

		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), slot.Date)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), slot.TimeRange())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), slot.Capacity)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), slot.BookedCount)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), slot.Capacity-slot.BookedCount)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), checkedIn)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), detail)

		if styleID, err := e.fillStyle(f, slot); err == nil {
			_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("F%d", row), styleID)
		}
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "B", 14)
	_ = f.SetColWidth(sheetName, "C", "F", 11)
	_ = f.SetColWidth(sheetName, "G", "G", 45)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("occupancy_%s_to_%s_%s.xlsx", startDate, endDate, time.Now().Format("20060102_150405"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("slots", len(slots)).Msg("occupancy report created")
	return filePath, nil
}

// fillStyle colors a row red when the slot is full and green when it
// still has room. Inactive slots stay gray.
func (e *ExcelExporter) fillStyle(f *excelize.File, slot *models.Slot) (int, error) {
	color := "#C6EFCE"
	switch {
	case !slot.IsActive:
		color = "#D9D9D9"
	case slot.BookedCount >= slot.Capacity:
		color = "#FFC7CE"
	}
	return f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
}
