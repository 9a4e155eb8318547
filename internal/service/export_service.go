package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
	"github.com/noah-isme/sma-laundry-api/pkg/export"
)

type exportPlanReader interface {
	List(ctx context.Context, filter models.WashPlanFilter) ([]models.WashPlanDetail, int, error)
}

type exportRequestReader interface {
	List(ctx context.Context, filter models.WashRequestFilter) ([]models.WashRequestDetail, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult holds a rendered report ready for download.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders usage and request history reports.
type ExportService struct {
	plans    exportPlanReader
	requests exportRequestReader
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(plans exportPlanReader, requests exportRequestReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{plans: plans, requests: requests, csv: csv, pdf: pdf, logger: logger}
}

// BatchYearUsage renders the per-student unit usage for one batch year.
func (s *ExportService) BatchYearUsage(ctx context.Context, batchID string, yearNo int, format ExportFormat) (*ExportResult, error) {
	filter := models.WashPlanFilter{BatchID: batchID, YearNo: &yearNo, PageSize: 100}
	var rows []map[string]string
	for page := 1; ; page++ {
		filter.Page = page
		plans, total, err := s.plans.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load usage data")
		}
		for _, plan := range plans {
			rows = append(rows, map[string]string{
				"NIS":             strPtr(plan.StudentNIS),
				"Student":         strPtr(plan.StudentName),
				"Year":            fmt.Sprintf("%d", plan.YearNo),
				"Total Units":     fmt.Sprintf("%d", plan.TotalUnits),
				"Used Units":      fmt.Sprintf("%d", plan.UsedUnits),
				"Remaining Units": fmt.Sprintf("%d", plan.RemainingUnits),
				"Unit Weight":     fmt.Sprintf("%.2f kg", plan.UnitWeightKg),
			})
		}
		if len(rows) >= total || len(plans) == 0 {
			break
		}
	}

	dataset := export.Dataset{
		Headers: []string{"NIS", "Student", "Year", "Total Units", "Used Units", "Remaining Units", "Unit Weight"},
		Rows:    rows,
	}
	title := fmt.Sprintf("Wash Usage Year %d", yearNo)
	return s.render(dataset, title, fmt.Sprintf("wash_usage_y%d", yearNo), format)
}

// RequestHistory renders the wash request log for one student.
func (s *ExportService) RequestHistory(ctx context.Context, studentID string, from, to *time.Time, format ExportFormat) (*ExportResult, error) {
	filter := models.WashRequestFilter{StudentID: studentID, From: from, To: to, PageSize: 100}
	var rows []map[string]string
	for page := 1; ; page++ {
		filter.Page = page
		requests, total, err := s.requests.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request history")
		}
		for _, request := range requests {
			returned := ""
			if request.ReturnedDate != nil {
				returned = request.ReturnedDate.UTC().Format(time.RFC3339)
			}
			rows = append(rows, map[string]string{
				"Given":     request.GivenDate.UTC().Format(time.RFC3339),
				"Weight":    fmt.Sprintf("%.2f kg", request.WeightKg),
				"Unit Cost": fmt.Sprintf("%d", request.UnitCost),
				"Status":    string(request.Status),
				"Returned":  returned,
				"Notes":     request.Notes,
			})
		}
		if len(rows) >= total || len(requests) == 0 {
			break
		}
	}

	dataset := export.Dataset{
		Headers: []string{"Given", "Weight", "Unit Cost", "Status", "Returned", "Notes"},
		Rows:    rows,
	}
	return s.render(dataset, "Wash Request History", "wash_requests", format)
}

func (s *ExportService) render(dataset export.Dataset, title, baseName string, format ExportFormat) (*ExportResult, error) {
	timestamp := time.Now().UTC().Format("20060102_150405")
	switch format {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("%s_%s.csv", baseName, timestamp),
			ContentType: "text/csv",
			Payload:     payload,
		}, nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("%s_%s.pdf", baseName, timestamp),
			ContentType: "application/pdf",
			Payload:     payload,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

// ParseExportFormat normalizes a format query parameter.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(raw)) {
	case ExportFormatCSV, "":
		return ExportFormatCSV, nil
	case ExportFormatPDF:
		return ExportFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
	}
}

func strPtr(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
