package app

import (
	"context"
	"strconv"

	"sitedesk/api/internal/export"
	"sitedesk/api/internal/store"
)

// exportReader is the slice of the store the report exporter reads from.
type exportReader interface {
	GetProject(context.Context, string) (store.Project, error)
	ListRFIsByProject(context.Context, string) ([]store.RFI, error)
	ListTendersByProject(context.Context, string) ([]store.Tender, error)
	GetUserByID(context.Context, string) (store.User, error)
}

// ExportStore adapts the SQL store to the export service's read interface,
// resolving user IDs to display names along the way.
type ExportStore struct {
	Store exportReader
}

func NewExportStore(st *store.PostgresStore) ExportStore {
	return ExportStore{Store: st}
}

func (e ExportStore) GetProject(ctx context.Context, id string) (export.ProjectInfo, error) {
	project, err := e.Store.GetProject(ctx, id)
	if err != nil {
		return export.ProjectInfo{}, err
	}
	return export.ProjectInfo{ID: project.ID, Name: project.Name}, nil
}

func (e ExportStore) ListRFIs(ctx context.Context, projectID string) ([]export.RFIInfo, error) {
	rfis, err := e.Store.ListRFIsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]export.RFIInfo, 0, len(rfis))
	for _, rfi := range rfis {
		info := export.RFIInfo{
			Number:     rfi.Number,
			Subject:    rfi.Subject,
			Status:     rfi.Status,
			RaisedBy:   e.displayName(ctx, rfi.RaisedBy),
			AssignedTo: e.displayName(ctx, rfi.AssignedTo),
			CreatedAt:  rfi.CreatedAt,
		}
		if rfi.DueDate != nil {
			info.DueDate = *rfi.DueDate
		}
		items = append(items, info)
	}
	return items, nil
}

func (e ExportStore) ListTenders(ctx context.Context, projectID string) ([]export.TenderInfo, error) {
	tenders, err := e.Store.ListTendersByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]export.TenderInfo, 0, len(tenders))
	for _, tender := range tenders {
		info := export.TenderInfo{
			Title:     tender.Title,
			Status:    tender.Status,
			Budget:    formatBudget(tender.Budget),
			AwardedTo: tender.AwardedTo,
		}
		if tender.ClosesAt != nil {
			info.ClosesAt = *tender.ClosesAt
		}
		items = append(items, info)
	}
	return items, nil
}

func (e ExportStore) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	user, err := e.Store.GetUserByID(ctx, userID)
	if err != nil {
		return userID
	}
	return user.DisplayName
}

func formatBudget(budget float64) string {
	if budget == 0 {
		return ""
	}
	return strconv.FormatFloat(budget, 'f', 2, 64)
}
