package export

import (
	"context"
	"fmt"
	"time"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetProject(ctx context.Context, id string) (ProjectInfo, error)
	ListRFIs(ctx context.Context, projectID string) ([]RFIInfo, error)
	ListTenders(ctx context.Context, projectID string) ([]TenderInfo, error)
}

// ProjectInfo holds project metadata
type ProjectInfo struct {
	ID   string
	Name string
}

// RFIInfo holds one RFI for the register
type RFIInfo struct {
	Number     int
	Subject    string
	Status     string
	RaisedBy   string
	AssignedTo string
	DueDate    time.Time
	CreatedAt  time.Time
}

// TenderInfo holds one tender for the summary
type TenderInfo struct {
	Title     string
	Status    string
	Budget    string
	ClosesAt  time.Time
	AwardedTo string
}

// Service provides report export functionality
type Service struct {
	store DataStore
	now   func() time.Time
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Export generates a report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	data := TemplateData{
		ProjectName: project.Name,
		GeneratedAt: s.now(),
	}

	switch req.Kind {
	case KindRFIRegister:
		data.ReportTitle = project.Name + " RFI Register"
		rfis, err := s.store.ListRFIs(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list rfis: %w", err)
		}
		for _, r := range rfis {
			data.RFIs = append(data.RFIs, RFIRow{
				Number:     r.Number,
				Subject:    r.Subject,
				Status:     r.Status,
				RaisedBy:   r.RaisedBy,
				AssignedTo: r.AssignedTo,
				DueDate:    r.DueDate,
				CreatedAt:  r.CreatedAt,
			})
		}
	case KindTenderSummary:
		data.ReportTitle = project.Name + " Tender Summary"
		tenders, err := s.store.ListTenders(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list tenders: %w", err)
		}
		for _, t := range tenders {
			data.Tenders = append(data.Tenders, TenderRow{
				Title:     t.Title,
				Status:    t.Status,
				Budget:    t.Budget,
				ClosesAt:  t.ClosesAt,
				AwardedTo: t.AwardedTo,
			})
		}
	default:
		return nil, fmt.Errorf("unsupported report kind: %s", req.Kind)
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return renderPDF(ctx, html, data.ReportTitle)
	case FormatDOCX:
		return renderDOCX(ctx, html, data.ReportTitle)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
