package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID        string
	Name      string
	Code      string
	Address   string
	Status    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectMembership is the join row that defines a user's access scope.
type ProjectMembership struct {
	ProjectID string
	UserID    string
	Role      string
	AddedBy   string
	CreatedAt time.Time
}

type Message struct {
	ID        string
	ProjectID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// RFI statuses follow the register vocabulary used on site paperwork.
// Only outstanding and overdue count toward the assignee's badge.
const (
	RFIStatusOutstanding = "outstanding"
	RFIStatusOverdue     = "overdue"
	RFIStatusInReview    = "in_review"
	RFIStatusAnswered    = "answered"
	RFIStatusRejected    = "rejected"
	RFIStatusClosed      = "closed"
	RFIStatusDraft       = "draft"
	RFIStatusSent        = "sent"
	RFIStatusReceived    = "received"
	RFIStatusSubmitted   = "submitted"
	RFIStatusOpen        = "open"
	RFIStatusVoid        = "void"
)

type RFI struct {
	ID         string
	ProjectID  string
	Number     int
	Subject    string
	Question   string
	Answer     string
	Status     string
	RaisedBy   string
	AssignedTo string
	DueDate    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Document struct {
	ID          string
	ProjectID   string
	Title       string
	Category    string
	FileName    string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}

const (
	TenderStatusDraft   = "draft"
	TenderStatusOpen    = "open"
	TenderStatusClosed  = "closed"
	TenderStatusAwarded = "awarded"
)

type Tender struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	Budget      float64
	ClosesAt    *time.Time
	CreatedBy   string
	AwardedTo   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
