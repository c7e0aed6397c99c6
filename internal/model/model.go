package model

import (
	"context"
	"time"
)

// ViewerRole represents a report viewer's access level.
type ViewerRole string

const (
	// ViewerRoleAdmin may view the report of every course.
	ViewerRoleAdmin ViewerRole = "admin"
	// ViewerRoleTeacher may view courses where the linked LMS user teaches.
	ViewerRoleTeacher ViewerRole = "teacher"
)

// Viewer is an account that may log in and look at reports.
type Viewer struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         ViewerRole
	LMSUserID    int64 // 0 when the account is not linked to an LMS user
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	ViewerID  int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type viewerCtxKey struct{}

// ContextWithViewer stores a viewer in the request context.
func ContextWithViewer(ctx context.Context, v *Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, v)
}

// ViewerFromContext retrieves the authenticated viewer from context, or nil.
func ViewerFromContext(ctx context.Context) *Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(*Viewer)
	return v
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// AttemptState is the normalized state of a quiz attempt.
type AttemptState string

const (
	AttemptNotStarted AttemptState = "not-started"
	AttemptInProgress AttemptState = "in-progress"
	AttemptFinished   AttemptState = "finished"
	AttemptOther      AttemptState = "other"
)

// ParseAttemptState maps the LMS attempt state column to an AttemptState.
// A nil state means the user has no attempt at all.
func ParseAttemptState(raw *string) AttemptState {
	if raw == nil {
		return AttemptNotStarted
	}
	switch *raw {
	case "inprogress":
		return AttemptInProgress
	case "finished":
		return AttemptFinished
	default:
		return AttemptOther
	}
}

// Course is the subset of an LMS course the report shows.
type Course struct {
	ID        int64  `json:"id"`
	ShortName string `json:"shortname"`
	FullName  string `json:"fullname"`
}

// SiteCourseID is the LMS front page course, which never has a report.
const SiteCourseID int64 = 1

// Group is a course group.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ParticipantRecord is one row of the participation report.
type ParticipantRecord struct {
	UserID          int64        `json:"user_id"`
	LastName        string       `json:"lastname"`
	FirstName       string       `json:"firstname"`
	Username        string       `json:"matriculation_number"`
	GroupID         int64        `json:"group_id"`
	GroupName       string       `json:"group"`
	QuizName        string       `json:"assessment"`
	QuizModuleID    int64        `json:"cmid"`
	AttemptNumber   *int         `json:"attempt,omitempty"`
	AttemptState    AttemptState `json:"status"`
	AttemptStateRaw string       `json:"status_raw,omitempty"`
}

// Candidate is a report row before visibility filtering.
type Candidate struct {
	ParticipantRecord
	Availability string // raw availability JSON of the quiz module
}

// GroupRestriction maps a quiz module id to the group ids allowed to see it.
// Modules without an entry are unrestricted.
type GroupRestriction map[int64]map[int64]bool

// CourseReport is a filtered report for one course.
type CourseReport struct {
	Course      Course
	Records     []ParticipantRecord
	GeneratedAt time.Time
}

// ReportConfig holds runtime parameters set via CLI flags.
type ReportConfig struct {
	DBDriver      string `validate:"oneof=sqlite postgres"`
	DBDSN         string `validate:"required"`
	TablePrefix   string `validate:"required,max=32"`
	HostURL       string `validate:"required,url"` // LMS wwwroot used for profile and quiz links
	Lang          string `validate:"oneof=en de"`
	BasePath      string // URL prefix for sub-path deployments (e.g. "/reports")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
}
