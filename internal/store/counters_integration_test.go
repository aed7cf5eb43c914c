package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// getTestDatabaseURL returns the database URL for integration tests, or
// skips the test when none is configured.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("SITEDESK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("SITEDESK_TEST_DATABASE_URL is not set")
	}
	return dsn
}

func setupCounterFixture(ctx context.Context, t *testing.T) *PostgresStore {
	t.Helper()

	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	seed := `
		INSERT INTO users (id, display_name, email) VALUES
			('u1', 'Site Engineer', 'u1@test.dev'),
			('u2', 'Architect', 'u2@test.dev'),
			('u3', 'Quantity Surveyor', 'u3@test.dev');
		INSERT INTO projects (id, name, created_by) VALUES
			('p1', 'Harbour Bridge Upgrade', 'u2'),
			('p2', 'Depot Fit-Out', 'u3');
		INSERT INTO project_memberships (project_id, user_id, role) VALUES
			('p1', 'u1', 'member'),
			('p1', 'u2', 'manager'),
			('p2', 'u3', 'manager');
	`
	if _, err := db.ExecContext(ctx, seed); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
	return NewPostgresStore(db)
}

// Mirrors the worked scenario: u1 belongs to {p1}; p1 has 2 unread messages
// not from u1, 1 outstanding RFI assigned to u1, 0 new documents, 1 open
// tender. Rows in p2 must never leak into u1's counts.
func TestCountersWorkedScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	s := setupCounterFixture(ctx, t)

	seed := `
		INSERT INTO messages (id, project_id, sender_id, body) VALUES
			('m1', 'p1', 'u2', 'Rebar delivery confirmed'),
			('m2', 'p1', 'u2', 'Pour scheduled for Friday'),
			('m3', 'p1', 'u1', 'Noted, thanks'),
			('m4', 'p2', 'u3', 'Out of scope for u1');
		INSERT INTO rfis (id, project_id, number, subject, status, raised_by, assigned_to) VALUES
			('r1', 'p1', 1, 'Clarify slab thickness', 'outstanding', 'u2', 'u1'),
			('r2', 'p1', 2, 'Answered earlier', 'answered', 'u2', 'u1'),
			('r3', 'p2', 1, 'Different project', 'outstanding', 'u3', 'u1');
		INSERT INTO documents (id, project_id, title, uploaded_by) VALUES
			('d1', 'p1', 'Site diary week 12', 'u1');
		INSERT INTO tenders (id, project_id, title, status, created_by) VALUES
			('t1', 'p1', 'Electrical package', 'open', 'u2'),
			('t2', 'p1', 'Closed package', 'closed', 'u2'),
			('t3', 'p2', 'Out of scope package', 'open', 'u3');
	`
	if _, err := s.DB().ExecContext(ctx, seed); err != nil {
		t.Fatalf("seed entities: %v", err)
	}

	scope, err := s.ProjectIDsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ProjectIDsForUser: %v", err)
	}
	if len(scope) != 1 || scope[0] != "p1" {
		t.Fatalf("scope = %v, want [p1]", scope)
	}

	since := time.Now().Add(-7 * 24 * time.Hour)

	messages, err := s.CountUnreadMessages(ctx, "u1", scope, since)
	if err != nil {
		t.Fatalf("CountUnreadMessages: %v", err)
	}
	if messages != 2 {
		t.Errorf("messages = %d, want 2", messages)
	}

	rfis, err := s.CountAssignedRFIs(ctx, "u1", scope)
	if err != nil {
		t.Fatalf("CountAssignedRFIs: %v", err)
	}
	if rfis != 1 {
		t.Errorf("rfis = %d, want 1 (answered and out-of-scope rows excluded)", rfis)
	}

	documents, err := s.CountNewDocuments(ctx, "u1", scope, since)
	if err != nil {
		t.Fatalf("CountNewDocuments: %v", err)
	}
	if documents != 0 {
		t.Errorf("documents = %d, want 0 (self-uploaded excluded)", documents)
	}

	tenders, err := s.CountOpenTenders(ctx, scope)
	if err != nil {
		t.Fatalf("CountOpenTenders: %v", err)
	}
	if tenders != 1 {
		t.Errorf("tenders = %d, want 1", tenders)
	}
}

// The unread window boundary is exclusive: a message created exactly at
// now-7d does not count.
func TestCountUnreadMessagesWindowBoundaryIsExclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	s := setupCounterFixture(ctx, t)

	cutoff := time.Now().Add(-7 * 24 * time.Hour).Truncate(time.Microsecond)

	if _, err := s.DB().ExecContext(ctx, `
		INSERT INTO messages (id, project_id, sender_id, body, created_at) VALUES
			('m-boundary', 'p1', 'u2', 'exactly at the cutoff', $1),
			('m-inside', 'p1', 'u2', 'one second newer', $2),
			('m-outside', 'p1', 'u2', 'one second older', $3)
	`, cutoff, cutoff.Add(time.Second), cutoff.Add(-time.Second)); err != nil {
		t.Fatalf("seed boundary messages: %v", err)
	}

	count, err := s.CountUnreadMessages(ctx, "u1", []string{"p1"}, cutoff)
	if err != nil {
		t.Fatalf("CountUnreadMessages: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (boundary row excluded)", count)
	}
}
