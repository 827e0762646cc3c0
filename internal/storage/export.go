package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const usersSheet = "Users"

// ExportUsers writes an xlsx report of every user to w.
func (s *Storage) ExportUsers(ctx context.Context, w io.Writer) error {
	const operation = "storage.ExportUsers"

	users, err := s.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", usersSheet); err != nil {
		return fmt.Errorf("%s: rename sheet: %w", operation, err)
	}

	headers := []string{"ID", "Username", "Full name", "Language", "Subscription end", "Created at"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(usersSheet, cell, header); err != nil {
			return fmt.Errorf("%s: header: %w", operation, err)
		}
	}

	for row, u := range users {
		username := ""
		if u.Username != nil {
			username = "@" + *u.Username
		}
		data := []interface{}{
			u.ID,
			username,
			u.FullName,
			u.LanguageCode,
			u.SubEndDate.Format("2006-01-02 15:04"),
			u.CreatedAt.Format("2006-01-02 15:04"),
		}
		for col, value := range data {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(usersSheet, cell, value); err != nil {
				return fmt.Errorf("%s: row %d: %w", operation, row+2, err)
			}
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetCellStyle(usersSheet, "A1", "F1", style)
	}
	_ = f.SetColWidth(usersSheet, "A", "F", 20)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("%s: write: %w", operation, err)
	}
	return nil
}
