package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"orgchart/api/internal/orgchart"
)

const rosterSheet = "Roster"

var rosterHeader = []string{"Department", "Name", "Position", "Email", "Phone", "Lead", "CI", "Contract", "CV"}

var rosterWidths = []float64{22, 26, 24, 30, 18, 8, 6, 10, 6}

// exportXLSX writes one row per person, the admin first.
func exportXLSX(snap orgchart.Snapshot, title string) (*Result, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open, so Close happens after writing.

	index, err := f.NewSheet(rosterSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range rosterHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(rosterSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(rosterSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(rosterSheet, name, name, rosterWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	row := 2
	if snap.AdminData != nil {
		if err := writeRosterRow(f, row, snap.AdminData.Department, *snap.AdminData); err != nil {
			f.Close()
			return nil, err
		}
		row++
	}
	for _, dept := range snap.Departments {
		for _, emp := range dept.Employees {
			if err := writeRosterRow(f, row, dept.Name, emp); err != nil {
				f.Close()
				return nil, err
			}
			row++
		}
	}

	if err := f.SetPanes(rosterSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}

func writeRosterRow(f *excelize.File, row int, department string, emp orgchart.Employee) error {
	lead := ""
	if emp.IsLead {
		lead = "Yes"
	}
	values := []any{
		department,
		personName(emp),
		emp.Position,
		emp.Email,
		emp.Phone,
		lead,
		len(emp.Documents.CI),
		len(emp.Documents.Contract),
		len(emp.Documents.CV),
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(rosterSheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}
