package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"turfie/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Reservations"

var headers = []string{"ID", "Date", "Start", "End", "Hours", "Requester", "Status", "Amount"}

// Exporter renders a venue's reservation ledger as an xlsx workbook. When dir
// is set, every workbook is also archived there.
type Exporter struct {
	dir    string
	loc    *time.Location
	logger *zerolog.Logger
}

func NewExporter(dir string, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{dir: dir, loc: loc, logger: logger}
}

// FileName is the suggested download name for a venue export.
func FileName(venue *models.Venue, from, to time.Time) string {
	return fmt.Sprintf("venue_%d_%s_to_%s.xlsx", venue.ID, from.Format(models.DateFormat), to.Format(models.DateFormat))
}

// Write renders the workbook into w.
func (e *Exporter) Write(w io.Writer, venue *models.Venue, from, to time.Time, reservations []*models.Reservation) error {
	f, err := e.build(venue, from, to, reservations)
	if err != nil {
		return err
	}
	defer f.Close()

	if e.dir != "" {
		if err := e.archive(f, FileName(venue, from, to)); err != nil {
			e.logger.Warn().Err(err).Int64("venue_id", venue.ID).Msg("archive export")
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) archive(f *excelize.File, name string) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(e.dir, name)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	e.logger.Info().Str("file_path", path).Msg("excel export archived")
	return nil
}

func (e *Exporter) build(venue *models.Venue, from, to time.Time, reservations []*models.Reservation) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s: %s - %s", venue.Name, from.Format(models.DateFormat), to.Format(models.DateFormat)))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
	}
	_ = f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle)

	total := decimal.Zero
	row := 3
	for _, r := range reservations {
		start, end := r.StartTime.In(e.loc), r.EndTime.In(e.loc)
		values := []interface{}{
			r.ID,
			start.Format(models.DateFormat),
			start.Format("15:04"),
			end.Format("15:04"),
			r.Duration().Hours(),
			r.RequesterID,
			string(r.Status),
			r.Amount.InexactFloat64(),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		if r.Status != models.StatusCancelled {
			total = total.Add(r.Amount)
		}
		row++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(len(headers)-1, row)
	totalCell, _ := excelize.CoordinatesToCellName(len(headers), row)
	_ = f.SetCellValue(sheetName, totalLabel, "Total")
	_ = f.SetCellValue(sheetName, totalCell, total.InexactFloat64())

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", lastCol, 14)
	return f, nil
}
