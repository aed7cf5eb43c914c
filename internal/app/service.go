package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"sitedesk/api/internal/auth"
	"sitedesk/api/internal/authpw"
	"sitedesk/api/internal/config"
	"sitedesk/api/internal/email"
	"sitedesk/api/internal/export"
	"sitedesk/api/internal/notify"
	"sitedesk/api/internal/rbac"
	"sitedesk/api/internal/realtime"
	"sitedesk/api/internal/search"
	"sitedesk/api/internal/storage"
	"sitedesk/api/internal/store"
	"sitedesk/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

var allowedRFIStatuses = map[string]struct{}{
	store.RFIStatusOutstanding: {},
	store.RFIStatusOverdue:     {},
	store.RFIStatusInReview:    {},
	store.RFIStatusAnswered:    {},
	store.RFIStatusRejected:    {},
	store.RFIStatusClosed:      {},
	store.RFIStatusDraft:       {},
	store.RFIStatusSent:        {},
	store.RFIStatusReceived:    {},
	store.RFIStatusSubmitted:   {},
	store.RFIStatusOpen:        {},
	store.RFIStatusVoid:        {},
}

var allowedTenderStatuses = map[string]struct{}{
	store.TenderStatusDraft:   {},
	store.TenderStatusOpen:    {},
	store.TenderStatusClosed:  {},
	store.TenderStatusAwarded: {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	ProjectIDsForUser(context.Context, string) ([]string, error)
	IsProjectMember(context.Context, string, string) (bool, error)
	GetProjectRole(context.Context, string, string) (string, error)
	AddProjectMember(context.Context, store.ProjectMembership) error
	RemoveProjectMember(context.Context, string, string) error
	ListProjectMembers(context.Context, string) ([]store.ProjectMembership, error)

	InsertMessage(context.Context, store.Message) error
	ListMessagesByProject(context.Context, string, int) ([]store.Message, error)

	InsertRFI(context.Context, store.RFI) (store.RFI, error)
	GetRFI(context.Context, string) (store.RFI, error)
	ListRFIsByProject(context.Context, string) ([]store.RFI, error)
	UpdateRFIStatus(context.Context, string, string, string) error

	InsertDocument(context.Context, store.Document) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocumentsByProject(context.Context, string) ([]store.Document, error)

	InsertTender(context.Context, store.Tender) error
	GetTender(context.Context, string) (store.Tender, error)
	ListTendersByProject(context.Context, string) ([]store.Tender, error)
	UpdateTenderStatus(context.Context, string, string, string) error

	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Redis-backed in production so tokens
// expire by TTL; the postgres store implements the same three methods as a
// fallback when Redis is not configured.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type changePublisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// Deps carries the optional collaborators. Any of them may be nil; the
// service degrades the matching feature instead of failing at startup.
type Deps struct {
	Sessions  refreshStore
	Auth      *authpw.Service
	Email     *email.Service
	Search    *search.Service
	Exporter  *export.Service
	Objects   *storage.Service
	Publisher changePublisher
	Notify    *notify.Registry
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	authpw    *authpw.Service
	email     *email.Service
	search    *search.Service
	exporter  *export.Service
	objects   *storage.Service
	publisher changePublisher
	notify    *notify.Registry
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		authpw:    deps.Auth,
		email:     deps.Email,
		search:    deps.Search,
		exporter:  deps.Exporter,
		objects:   deps.Objects,
		publisher: deps.Publisher,
		notify:    deps.Notify,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) frontendURL(path string) string {
	return strings.TrimRight(s.cfg.CORSOrigin, "/") + path
}

func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.frontendURL("/verify-email?token=" + token)
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("app: verification email to %s: %v", to, err)
		}
	}()
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.frontendURL("/reset-password?token=" + token)
	go func() {
		if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("app: password reset email to %s: %v", to, err)
		}
	}()
}

// Sessions

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session payload may be sparse; refresh the profile from the store.
	if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = full
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if s.notify != nil && session.UserID != "" {
		s.notify.Drop(session.UserID)
	}
	return nil
}

// authorize resolves the caller's role on a project and checks the action.
// Workspace admins bypass project membership entirely.
func (s *Service) authorize(ctx context.Context, projectID string, session Session, action rbac.Action) (rbac.Role, error) {
	if rbac.Normalize(session.Role) == rbac.RoleAdmin {
		return rbac.RoleAdmin, nil
	}
	role, err := s.store.GetProjectRole(ctx, projectID, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Non-members get 404, not 403, so project IDs cannot be probed.
			return "", domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return "", err
	}
	normalized := rbac.Normalize(role)
	if !rbac.Can(normalized, action) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return normalized, nil
}

func (s *Service) publishChange(ctx context.Context, event realtime.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// Counts catch up on the next explicit refresh; the write succeeded.
		log.Printf("app: publish %s %s: %v", event.Table, event.Event, err)
	}
}

// Projects

func (s *Service) CreateProject(ctx context.Context, session Session, name, code, address string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}

	project := store.Project{
		ID:        util.NewID("prj"),
		Name:      name,
		Code:      strings.TrimSpace(code),
		Address:   strings.TrimSpace(address),
		Status:    "active",
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	if err := s.store.AddProjectMember(ctx, store.ProjectMembership{
		ProjectID: project.ID,
		UserID:    session.UserID,
		Role:      string(rbac.RoleAdmin),
		AddedBy:   session.UserID,
	}); err != nil {
		return nil, fmt.Errorf("add creator membership: %w", err)
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableMemberships,
		Event: realtime.EventInsert,
		New:   &realtime.Row{ProjectID: project.ID, UserID: session.UserID},
	})

	return projectPayload(project, string(rbac.RoleAdmin)), nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) ([]map[string]any, error) {
	projects, err := s.store.ListProjectsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		role, err := s.store.GetProjectRole(ctx, project.ID, session.UserID)
		if err != nil {
			role = string(rbac.RoleViewer)
		}
		items = append(items, projectPayload(project, role))
	}
	return items, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	role, err := s.authorize(ctx, projectID, session, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, string(role)), nil
}

// Members

func (s *Service) AddMember(ctx context.Context, session Session, projectID, userID, role string) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionAdminister); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "user does not exist", nil)
		}
		return nil, err
	}

	membership := store.ProjectMembership{
		ProjectID: projectID,
		UserID:    user.ID,
		Role:      string(rbac.Normalize(role)),
		AddedBy:   session.UserID,
	}
	if err := s.store.AddProjectMember(ctx, membership); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableMemberships,
		Event: realtime.EventInsert,
		New:   &realtime.Row{ProjectID: projectID, UserID: user.ID},
	})

	return map[string]any{
		"projectId": projectID,
		"userId":    user.ID,
		"userName":  user.DisplayName,
		"role":      membership.Role,
	}, nil
}

func (s *Service) RemoveMember(ctx context.Context, session Session, projectID, userID string) error {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionAdminister); err != nil {
		return err
	}
	if err := s.store.RemoveProjectMember(ctx, projectID, userID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableMemberships,
		Event: realtime.EventDelete,
		Old:   &realtime.Row{ProjectID: projectID, UserID: userID},
	})
	// The removed user's scope shrank; their aggregator recounts via the
	// membership event, and their cached session loses access on next check.
	return nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	memberships, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(memberships))
	for _, m := range memberships {
		name := ""
		if user, err := s.store.GetUserByID(ctx, m.UserID); err == nil {
			name = user.DisplayName
		}
		items = append(items, map[string]any{
			"projectId": m.ProjectID,
			"userId":    m.UserID,
			"userName":  name,
			"role":      m.Role,
			"addedBy":   m.AddedBy,
		})
	}
	return items, nil
}

// Messages

func (s *Service) PostMessage(ctx context.Context, session Session, projectID, body string) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionPost); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}

	message := store.Message{
		ID:        util.NewID("msg"),
		ProjectID: projectID,
		SenderID:  session.UserID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableMessages,
		Event: realtime.EventInsert,
		New:   &realtime.Row{ID: message.ID, ProjectID: projectID, SenderID: session.UserID},
	})

	return messagePayload(message, session.UserName), nil
}

func (s *Service) ListMessages(ctx context.Context, session Session, projectID string, limit int) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	messages, err := s.store.ListMessagesByProject(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		name := ""
		if user, err := s.store.GetUserByID(ctx, m.SenderID); err == nil {
			name = user.DisplayName
		}
		items = append(items, messagePayload(m, name))
	}
	return items, nil
}

// RFIs

func (s *Service) CreateRFI(ctx context.Context, session Session, projectID, subject, question, assignedTo string, dueDate *time.Time) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionPost); err != nil {
		return nil, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subject is required", nil)
	}
	if assignedTo != "" {
		member, err := s.store.IsProjectMember(ctx, projectID, assignedTo)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignee is not a project member", nil)
		}
	}

	rfi := store.RFI{
		ID:         util.NewID("rfi"),
		ProjectID:  projectID,
		Subject:    subject,
		Question:   strings.TrimSpace(question),
		Status:     store.RFIStatusOutstanding,
		RaisedBy:   session.UserID,
		AssignedTo: assignedTo,
		DueDate:    dueDate,
	}
	created, err := s.store.InsertRFI(ctx, rfi)
	if err != nil {
		return nil, fmt.Errorf("insert rfi: %w", err)
	}

	if s.search != nil {
		s.search.IndexRFI(search.RFIRecord{
			ID:        created.ID,
			Number:    created.Number,
			Subject:   created.Subject,
			Question:  created.Question,
			Answer:    created.Answer,
			ProjectID: created.ProjectID,
			Status:    created.Status,
		})
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableRFIs,
		Event: realtime.EventInsert,
		New:   &realtime.Row{ID: created.ID, ProjectID: projectID, AssignedTo: assignedTo, Status: created.Status},
	})

	s.notifyRFIAssignee(created)

	return rfiPayload(created), nil
}

// notifyRFIAssignee emails the assignee in the background. Best effort; a
// failed send only loses the email, never the RFI.
func (s *Service) notifyRFIAssignee(rfi store.RFI) {
	if rfi.AssignedTo == "" || !s.SMTPConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		assignee, err := s.store.GetUserByID(ctx, rfi.AssignedTo)
		if err != nil {
			log.Printf("app: rfi %s assignee lookup: %v", rfi.ID, err)
			return
		}
		project, err := s.store.GetProject(ctx, rfi.ProjectID)
		if err != nil {
			log.Printf("app: rfi %s project lookup: %v", rfi.ID, err)
			return
		}
		due := ""
		if rfi.DueDate != nil {
			due = rfi.DueDate.Format("2006-01-02")
		}
		url := s.frontendURL(fmt.Sprintf("/projects/%s/rfis/%s", rfi.ProjectID, rfi.ID))
		if err := s.email.SendRFIAssignedEmail(assignee.Email, assignee.DisplayName, project.Name, rfi.Number, rfi.Subject, due, url); err != nil {
			log.Printf("app: rfi %s assignment email: %v", rfi.ID, err)
		}
	}()
}

func (s *Service) ListRFIs(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	rfis, err := s.store.ListRFIsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rfis))
	for _, rfi := range rfis {
		items = append(items, rfiPayload(rfi))
	}
	return items, nil
}

func (s *Service) GetRFI(ctx context.Context, session Session, rfiID string) (map[string]any, error) {
	rfi, err := s.store.GetRFI(ctx, rfiID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, rfi.ProjectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	return rfiPayload(rfi), nil
}

func (s *Service) UpdateRFIStatus(ctx context.Context, session Session, rfiID, status, answer string) (map[string]any, error) {
	rfi, err := s.store.GetRFI(ctx, rfiID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, rfi.ProjectID, session, rbac.ActionManage); err != nil {
		return nil, err
	}
	if _, ok := allowedRFIStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid rfi status", map[string]any{"status": status})
	}

	if err := s.store.UpdateRFIStatus(ctx, rfiID, status, answer); err != nil {
		return nil, err
	}
	updated, err := s.store.GetRFI(ctx, rfiID)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexRFI(search.RFIRecord{
			ID:        updated.ID,
			Number:    updated.Number,
			Subject:   updated.Subject,
			Question:  updated.Question,
			Answer:    updated.Answer,
			ProjectID: updated.ProjectID,
			Status:    updated.Status,
		})
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableRFIs,
		Event: realtime.EventUpdate,
		New:   &realtime.Row{ID: updated.ID, ProjectID: updated.ProjectID, AssignedTo: updated.AssignedTo, Status: updated.Status},
		Old:   &realtime.Row{ID: rfi.ID, ProjectID: rfi.ProjectID, AssignedTo: rfi.AssignedTo, Status: rfi.Status},
	})

	return rfiPayload(updated), nil
}

// Documents

func (s *Service) UploadDocument(ctx context.Context, session Session, projectID, title, category, fileName, contentType string, size int64, file io.Reader) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionUpload); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(fileName)
	}
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title or file name is required", nil)
	}
	if category == "" {
		category = "general"
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		ProjectID:   projectID,
		Title:       title,
		Category:    category,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		UploadedBy:  session.UserID,
	}

	if file != nil {
		if s.objects == nil {
			return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Document file storage is not configured", nil)
		}
		doc.ObjectKey = fmt.Sprintf("%s/%s/%s", projectID, doc.ID, fileName)
		if err := s.objects.Put(ctx, doc.ObjectKey, file, size, contentType); err != nil {
			return nil, fmt.Errorf("store file: %w", err)
		}
	}

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		if doc.ObjectKey != "" {
			_ = s.objects.Delete(ctx, doc.ObjectKey)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}

	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:        doc.ID,
			Title:     doc.Title,
			FileName:  doc.FileName,
			Category:  doc.Category,
			ProjectID: doc.ProjectID,
		})
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableDocuments,
		Event: realtime.EventInsert,
		New:   &realtime.Row{ID: doc.ID, ProjectID: projectID, UploadedBy: session.UserID},
	})

	return documentPayload(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	documents, err := s.store.ListDocumentsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc))
	}
	return items, nil
}

func (s *Service) DocumentDownloadURL(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, doc.ProjectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if doc.ObjectKey == "" || s.objects == nil {
		return nil, domainError(http.StatusNotFound, "NO_FILE", "Document has no stored file", nil)
	}
	url, err := s.objects.PresignedGetURL(ctx, doc.ObjectKey, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	return map[string]any{
		"documentId": doc.ID,
		"fileName":   doc.FileName,
		"url":        url,
		"expiresIn":  int((15 * time.Minute).Seconds()),
	}, nil
}

// Tenders

func (s *Service) CreateTender(ctx context.Context, session Session, projectID, title, description string, budget float64, closesAt *time.Time) (map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionManage); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	tender := store.Tender{
		ID:          util.NewID("tnd"),
		ProjectID:   projectID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Status:      store.TenderStatusDraft,
		Budget:      budget,
		ClosesAt:    closesAt,
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertTender(ctx, tender); err != nil {
		return nil, fmt.Errorf("insert tender: %w", err)
	}

	if s.search != nil {
		s.search.IndexTender(search.TenderRecord{
			ID:          tender.ID,
			Title:       tender.Title,
			Description: tender.Description,
			ProjectID:   tender.ProjectID,
			Status:      tender.Status,
		})
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableTenders,
		Event: realtime.EventInsert,
		New:   &realtime.Row{ID: tender.ID, ProjectID: projectID, Status: tender.Status},
	})

	return tenderPayload(tender), nil
}

func (s *Service) ListTenders(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	tenders, err := s.store.ListTendersByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tenders))
	for _, tender := range tenders {
		items = append(items, tenderPayload(tender))
	}
	return items, nil
}

func (s *Service) UpdateTenderStatus(ctx context.Context, session Session, tenderID, status, awardedTo string) (map[string]any, error) {
	tender, err := s.store.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, tender.ProjectID, session, rbac.ActionManage); err != nil {
		return nil, err
	}
	if _, ok := allowedTenderStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid tender status", map[string]any{"status": status})
	}
	if status == store.TenderStatusAwarded && strings.TrimSpace(awardedTo) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "awardedTo is required to award a tender", nil)
	}

	if err := s.store.UpdateTenderStatus(ctx, tenderID, status, awardedTo); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexTender(search.TenderRecord{
			ID:          updated.ID,
			Title:       updated.Title,
			Description: updated.Description,
			ProjectID:   updated.ProjectID,
			Status:      updated.Status,
		})
	}

	s.publishChange(ctx, realtime.ChangeEvent{
		Table: realtime.TableTenders,
		Event: realtime.EventUpdate,
		New:   &realtime.Row{ID: updated.ID, ProjectID: updated.ProjectID, Status: updated.Status},
		Old:   &realtime.Row{ID: tender.ID, ProjectID: tender.ProjectID, Status: tender.Status},
	})

	return tenderPayload(updated), nil
}

// Search

func (s *Service) Search(ctx context.Context, session Session, text, filterType, projectID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	scope, err := s.store.ProjectIDsForUser(ctx, session.UserID)
	if err != nil {
		// Fail closed: no verified scope, no results.
		log.Printf("app: search scope for %s: %v", session.UserID, err)
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:            text,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		ProjectIDs:      scope,
		Limit:           limit,
		Offset:          offset,
	}), nil
}

// Reports

func (s *Service) ExportReport(ctx context.Context, session Session, projectID, kind, format string) (*export.Result, error) {
	if _, err := s.authorize(ctx, projectID, session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Report export is not configured", nil)
	}
	return s.exporter.Export(ctx, export.Request{
		ProjectID: projectID,
		Kind:      export.Kind(kind),
		Format:    export.Format(format),
	})
}

// Notifications

func (s *Service) aggregatorFor(ctx context.Context, session Session) (*notify.Aggregator, error) {
	if s.notify == nil {
		return nil, domainError(http.StatusServiceUnavailable, "NOTIFY_UNAVAILABLE", "Notifications are not configured", nil)
	}
	agg, err := s.notify.For(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("start notification aggregator: %w", err)
	}
	return agg, nil
}

func (s *Service) NotificationCounts(ctx context.Context, session Session) (notify.Counts, error) {
	agg, err := s.aggregatorFor(ctx, session)
	if err != nil {
		return notify.Counts{}, err
	}
	return agg.Counts(), nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, kind, entityID string) (notify.Counts, error) {
	agg, err := s.aggregatorFor(ctx, session)
	if err != nil {
		return notify.Counts{}, err
	}
	agg.MarkAsRead(kind, entityID)
	return agg.Counts(), nil
}

func (s *Service) RefreshNotifications(ctx context.Context, session Session) (notify.Counts, error) {
	agg, err := s.aggregatorFor(ctx, session)
	if err != nil {
		return notify.Counts{}, err
	}
	agg.RefreshCounts(ctx)
	return agg.Counts(), nil
}

func (s *Service) SubscribeNotifications(ctx context.Context, session Session) (<-chan notify.Counts, func(), error) {
	agg, err := s.aggregatorFor(ctx, session)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := agg.Subscribe()
	return ch, cancel, nil
}

// Payload helpers

func projectPayload(project store.Project, role string) map[string]any {
	return map[string]any{
		"id":        project.ID,
		"name":      project.Name,
		"code":      project.Code,
		"address":   project.Address,
		"status":    project.Status,
		"createdBy": project.CreatedBy,
		"createdAt": project.CreatedAt,
		"myRole":    role,
	}
}

func messagePayload(message store.Message, senderName string) map[string]any {
	return map[string]any{
		"id":         message.ID,
		"projectId":  message.ProjectID,
		"senderId":   message.SenderID,
		"senderName": senderName,
		"body":       message.Body,
		"createdAt":  message.CreatedAt,
	}
}

func rfiPayload(rfi store.RFI) map[string]any {
	payload := map[string]any{
		"id":         rfi.ID,
		"projectId":  rfi.ProjectID,
		"number":     rfi.Number,
		"subject":    rfi.Subject,
		"question":   rfi.Question,
		"answer":     rfi.Answer,
		"status":     rfi.Status,
		"raisedBy":   rfi.RaisedBy,
		"assignedTo": rfi.AssignedTo,
		"createdAt":  rfi.CreatedAt,
		"updatedAt":  rfi.UpdatedAt,
	}
	if rfi.DueDate != nil {
		payload["dueDate"] = rfi.DueDate
	}
	return payload
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"projectId":   doc.ProjectID,
		"title":       doc.Title,
		"category":    doc.Category,
		"fileName":    doc.FileName,
		"contentType": doc.ContentType,
		"sizeBytes":   doc.SizeBytes,
		"uploadedBy":  doc.UploadedBy,
		"createdAt":   doc.CreatedAt,
		"hasFile":     doc.ObjectKey != "",
	}
}

func tenderPayload(tender store.Tender) map[string]any {
	payload := map[string]any{
		"id":          tender.ID,
		"projectId":   tender.ProjectID,
		"title":       tender.Title,
		"description": tender.Description,
		"status":      tender.Status,
		"budget":      tender.Budget,
		"createdBy":   tender.CreatedBy,
		"awardedTo":   tender.AwardedTo,
		"createdAt":   tender.CreatedAt,
		"updatedAt":   tender.UpdatedAt,
	}
	if tender.ClosesAt != nil {
		payload["closesAt"] = tender.ClosesAt
	}
	return payload
}
