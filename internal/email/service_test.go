package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:         "SiteDesk",
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "SiteDesk") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	data := PasswordResetData{
		AppName:  "SiteDesk",
		UserName: "Test User",
		ResetURL: "https://example.com/reset?token=xyz789",
	}

	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "SiteDesk") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderRFIAssignedTemplate(t *testing.T) {
	data := RFIAssignedData{
		AppName:     "SiteDesk",
		UserName:    "Site Engineer",
		ProjectName: "Riverside Towers",
		RFINumber:   42,
		Subject:     "Rebar spacing at level 3 slab",
		DueDate:     "2026-09-04",
		RFIURL:      "https://example.com/projects/p1/rfis/rfi_42",
	}

	html, err := renderTemplate(rfiAssignedEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Riverside Towers") {
		t.Error("template should contain project name")
	}
	if !strings.Contains(html, "#42") {
		t.Error("template should contain RFI number")
	}
	if !strings.Contains(html, "Rebar spacing at level 3 slab") {
		t.Error("template should contain RFI subject")
	}
	if !strings.Contains(html, "2026-09-04") {
		t.Error("template should contain due date")
	}
}

func TestSendRFIAssignedEmailUsesAssigneeAddress(t *testing.T) {
	svc := NewService(Config{
		Host: "smtp.example.com",
		Port: "587",
		From: "noreply@sitedesk.example",
	})

	var gotTo []string
	var gotMsg []byte
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = msg
		return nil
	}

	err := svc.SendRFIAssignedEmail("engineer@example.com", "Site Engineer", "Riverside Towers", 42, "Rebar spacing", "", "https://example.com/rfi")
	if err != nil {
		t.Fatalf("SendRFIAssignedEmail failed: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "engineer@example.com" {
		t.Errorf("sent to %v, want assignee", gotTo)
	}
	if !strings.Contains(string(gotMsg), "RFI #42 assigned to you") {
		t.Error("message should carry the RFI subject line")
	}
}
