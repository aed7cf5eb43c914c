package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, role, is_email_verified, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1) AND deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsEmailVerified, &user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `
		SELECT id, display_name, email, password_hash, role, is_email_verified, created_at
		FROM users
		WHERE id = $1 AND deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsEmailVerified, &user.CreatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and token revocation (Postgres fallback when Redis is
// not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// ---------------------------------------------------------------------------
// Projects

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, code, address, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, project.ID, project.Name, project.Code, project.Address, project.Status, project.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	const query = `
		SELECT id, name, code, address, status, created_by, created_at, updated_at
		FROM projects WHERE id=$1
	`
	var p Project
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ID, &p.Name, &p.Code, &p.Address, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	const query = `
		SELECT p.id, p.name, p.code, p.address, p.status, p.created_by, p.created_at, p.updated_at
		FROM projects p
		JOIN project_memberships pm ON pm.project_id = p.id
		WHERE pm.user_id = $1
		ORDER BY p.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.Address, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ---------------------------------------------------------------------------
// Project memberships (access scope)

// ProjectIDsForUser resolves the access-scope set: every project the user
// is a member of. An empty result is not an error.
func (s *PostgresStore) ProjectIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id FROM project_memberships WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve project scope: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_memberships WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_memberships WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read project role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) AddProjectMember(ctx context.Context, membership ProjectMembership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (project_id, user_id, role, added_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, membership.ProjectID, membership.UserID, membership.Role, membership.AddedBy)
	if err != nil {
		return fmt.Errorf("add project member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM project_memberships WHERE project_id=$1 AND user_id=$2
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("remove project member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, user_id, role, added_by, created_at
		FROM project_memberships WHERE project_id=$1
		ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	members := []ProjectMembership{}
	for rows.Next() {
		var m ProjectMembership
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.AddedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ---------------------------------------------------------------------------
// Messages

func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, project_id, sender_id, body)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.ProjectID, message.SenderID, message.Body)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessagesByProject(ctx context.Context, projectID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, sender_id, body, created_at
		FROM messages
		WHERE project_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountUnreadMessages counts messages in the given projects that someone
// else sent after the window cutoff. The boundary is exclusive: a message
// created exactly at the cutoff does not count.
func (s *PostgresStore) CountUnreadMessages(ctx context.Context, userID string, projectIDs []string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE project_id = ANY($1)
			AND sender_id <> $2
			AND created_at > $3
	`, projectIDs, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// RFIs

func (s *PostgresStore) InsertRFI(ctx context.Context, rfi RFI) (RFI, error) {
	const query = `
		INSERT INTO rfis (id, project_id, number, subject, question, status, raised_by, assigned_to, due_date)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(number), 0) + 1 FROM rfis WHERE project_id=$2),
			$3, $4, $5, $6, $7, $8)
		RETURNING number, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		rfi.ID, rfi.ProjectID, rfi.Subject, rfi.Question, rfi.Status, rfi.RaisedBy, rfi.AssignedTo, rfi.DueDate,
	).Scan(&rfi.Number, &rfi.CreatedAt, &rfi.UpdatedAt)
	if err != nil {
		return RFI{}, fmt.Errorf("insert rfi: %w", err)
	}
	return rfi, nil
}

func (s *PostgresStore) GetRFI(ctx context.Context, rfiID string) (RFI, error) {
	const query = `
		SELECT id, project_id, number, subject, question, answer, status, raised_by, assigned_to, due_date, created_at, updated_at
		FROM rfis WHERE id=$1
	`
	var r RFI
	err := s.db.QueryRowContext(ctx, query, rfiID).Scan(
		&r.ID, &r.ProjectID, &r.Number, &r.Subject, &r.Question, &r.Answer,
		&r.Status, &r.RaisedBy, &r.AssignedTo, &r.DueDate, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return RFI{}, err
	}
	return r, nil
}

func (s *PostgresStore) ListRFIsByProject(ctx context.Context, projectID string) ([]RFI, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, number, subject, question, answer, status, raised_by, assigned_to, due_date, created_at, updated_at
		FROM rfis WHERE project_id=$1
		ORDER BY number DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list rfis: %w", err)
	}
	defer rows.Close()

	rfis := []RFI{}
	for rows.Next() {
		var r RFI
		if err := rows.Scan(
			&r.ID, &r.ProjectID, &r.Number, &r.Subject, &r.Question, &r.Answer,
			&r.Status, &r.RaisedBy, &r.AssignedTo, &r.DueDate, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rfi: %w", err)
		}
		rfis = append(rfis, r)
	}
	return rfis, rows.Err()
}

func (s *PostgresStore) UpdateRFIStatus(ctx context.Context, rfiID, status, answer string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rfis SET status=$2, answer=COALESCE(NULLIF($3, ''), answer), updated_at=NOW()
		WHERE id=$1
	`, rfiID, status, answer)
	if err != nil {
		return fmt.Errorf("update rfi status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rfi rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountAssignedRFIs counts RFIs assigned to the user that are still
// outstanding or overdue, within the given projects.
func (s *PostgresStore) CountAssignedRFIs(ctx context.Context, userID string, projectIDs []string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rfis
		WHERE project_id = ANY($1)
			AND assigned_to = $2
			AND status IN ('outstanding', 'overdue')
	`, projectIDs, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count assigned rfis: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Documents

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, title, category, file_name, object_key, content_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, doc.ID, doc.ProjectID, doc.Title, doc.Category, doc.FileName, doc.ObjectKey, doc.ContentType, doc.SizeBytes, doc.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	const query = `
		SELECT id, project_id, title, category, file_name, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM documents WHERE id=$1
	`
	var d Document
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&d.ID, &d.ProjectID, &d.Title, &d.Category, &d.FileName, &d.ObjectKey,
		&d.ContentType, &d.SizeBytes, &d.UploadedBy, &d.CreatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

func (s *PostgresStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, category, file_name, object_key, content_type, size_bytes, uploaded_by, created_at
		FROM documents WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(
			&d.ID, &d.ProjectID, &d.Title, &d.Category, &d.FileName, &d.ObjectKey,
			&d.ContentType, &d.SizeBytes, &d.UploadedBy, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountNewDocuments counts documents in the given projects uploaded by
// someone else after the window cutoff (exclusive, same rule as messages).
func (s *PostgresStore) CountNewDocuments(ctx context.Context, userID string, projectIDs []string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE project_id = ANY($1)
			AND uploaded_by <> $2
			AND created_at > $3
	`, projectIDs, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count new documents: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Tenders

func (s *PostgresStore) InsertTender(ctx context.Context, tender Tender) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenders (id, project_id, title, description, status, budget, closes_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tender.ID, tender.ProjectID, tender.Title, tender.Description, tender.Status, tender.Budget, tender.ClosesAt, tender.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert tender: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTender(ctx context.Context, tenderID string) (Tender, error) {
	const query = `
		SELECT id, project_id, title, description, status, budget, closes_at, created_by, awarded_to, created_at, updated_at
		FROM tenders WHERE id=$1
	`
	var t Tender
	err := s.db.QueryRowContext(ctx, query, tenderID).Scan(
		&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Budget,
		&t.ClosesAt, &t.CreatedBy, &t.AwardedTo, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Tender{}, err
	}
	return t, nil
}

func (s *PostgresStore) ListTendersByProject(ctx context.Context, projectID string) ([]Tender, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, description, status, budget, closes_at, created_by, awarded_to, created_at, updated_at
		FROM tenders WHERE project_id=$1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tenders: %w", err)
	}
	defer rows.Close()

	tenders := []Tender{}
	for rows.Next() {
		var t Tender
		if err := rows.Scan(
			&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Budget,
			&t.ClosesAt, &t.CreatedBy, &t.AwardedTo, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tender: %w", err)
		}
		tenders = append(tenders, t)
	}
	return tenders, rows.Err()
}

func (s *PostgresStore) UpdateTenderStatus(ctx context.Context, tenderID, status, awardedTo string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tenders SET status=$2, awarded_to=COALESCE(NULLIF($3, ''), awarded_to), updated_at=NOW()
		WHERE id=$1
	`, tenderID, status, awardedTo)
	if err != nil {
		return fmt.Errorf("update tender status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tender rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountOpenTenders counts open tenders across the given projects. Unlike
// the other counters there is no self-exclusion: the author sees their own
// open tender in the badge too.
func (s *PostgresStore) CountOpenTenders(ctx context.Context, projectIDs []string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tenders
		WHERE project_id = ANY($1) AND status = 'open'
	`, projectIDs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open tenders: %w", err)
	}
	return count, nil
}
