// Package report builds the per-course assessment participation report and
// renders it as HTML or PDF.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eledia/assessmentreport/internal/model"
)

// ErrCourseNotFound is returned when the requested course does not exist.
var ErrCourseNotFound = errors.New("course not found")

// Roles that grant the course overview capability.
var viewerRoles = map[string]bool{
	"manager":        true,
	"editingteacher": true,
	"teacher":        true,
}

// Source is the LMS data the report reads.
type Source interface {
	GetCourse(ctx context.Context, id int64) (*model.Course, error)
	FetchCandidates(ctx context.Context, courseID int64) ([]model.Candidate, error)
	CourseRoles(ctx context.Context, courseID int64) (map[int64][]string, error)
	CourseGroups(ctx context.Context, courseID int64) (map[int64][]model.Group, error)
	SiteAdminIDs(ctx context.Context) (map[int64]bool, error)
	UserCourseRoles(ctx context.Context, courseID, userID int64) ([]string, error)
}

// Builder assembles course reports from a Source.
type Builder struct {
	src Source
	now func() time.Time
}

// New creates a Builder.
func New(src Source) *Builder {
	return &Builder{src: src, now: time.Now}
}

// Build fetches and filters the report of one course.
func (b *Builder) Build(ctx context.Context, courseID int64) (*model.CourseReport, error) {
	course, err := b.src.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course %d: %w", courseID, err)
	}
	if course == nil {
		return nil, fmt.Errorf("course %d: %w", courseID, ErrCourseNotFound)
	}

	cands, err := b.src.FetchCandidates(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	roles, err := b.src.CourseRoles(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("course roles: %w", err)
	}
	groups, err := b.src.CourseGroups(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("course groups: %w", err)
	}
	admins, err := b.src.SiteAdminIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("site admins: %w", err)
	}

	restrictions := Restrictions(cands)
	records := Filter(cands, FilterInput{
		Roles:        roles,
		Groups:       groups,
		SiteAdmins:   admins,
		Restrictions: restrictions,
	})

	slog.Debug("built course report",
		"course_id", courseID,
		"candidates", len(cands),
		"restricted_quizzes", len(restrictions),
		"records", len(records),
	)

	return &model.CourseReport{
		Course:      *course,
		Records:     records,
		GeneratedAt: b.now(),
	}, nil
}

// CanView reports whether the viewer may see the report of a course.
// The site course never has a report.
func (b *Builder) CanView(ctx context.Context, v *model.Viewer, courseID int64) (bool, error) {
	if v == nil || !v.Active || courseID == model.SiteCourseID {
		return false, nil
	}
	if v.Role == model.ViewerRoleAdmin {
		return true, nil
	}
	if v.LMSUserID == 0 {
		return false, nil
	}
	roles, err := b.src.UserCourseRoles(ctx, courseID, v.LMSUserID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if viewerRoles[r] {
			return true, nil
		}
	}
	return false, nil
}

// VisibleCourses filters courses down to those the viewer may see.
func (b *Builder) VisibleCourses(ctx context.Context, v *model.Viewer, courses []model.Course) ([]model.Course, error) {
	var out []model.Course
	for _, c := range courses {
		ok, err := b.CanView(ctx, v, c.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}
