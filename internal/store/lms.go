package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eledia/assessmentreport/internal/model"
)

// LMS context levels.
const (
	contextLevelSystem = 10
	contextLevelCourse = 50
)

// GetCourse returns a course by ID, or nil if it does not exist.
func (s *Store) GetCourse(ctx context.Context, id int64) (*model.Course, error) {
	var c model.Course
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, shortname, fullname FROM {course} WHERE id = ?`), id,
	).Scan(&c.ID, &c.ShortName, &c.FullName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCourses returns all courses except the site course, ordered by name.
func (s *Store) ListCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, shortname, fullname FROM {course} WHERE id <> ? ORDER BY fullname, id`),
		model.SiteCourseID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var courses []model.Course
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.ShortName, &c.FullName); err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// FetchCandidates returns one row per (enrolled user, quiz, attempt) of a
// course, and one row with a nil attempt for users who never started a quiz.
// No visibility filtering is applied.
func (s *Store) FetchCandidates(ctx context.Context, courseID int64) ([]model.Candidate, error) {
	query := s.q(`
		SELECT u.id, u.lastname, u.firstname, u.username,
		       q.name, cm.id, COALESCE(cm.availability, ''),
		       qa.attempt, qa.state
		FROM {course} c
		JOIN {course_modules} cm ON cm.course = c.id
		JOIN {modules} m ON m.id = cm.module AND m.name = 'quiz'
		JOIN {quiz} q ON q.id = cm.instance AND q.course = c.id
		JOIN {user} u ON u.deleted = 0 AND EXISTS (
			SELECT 1
			FROM {role_assignments} ra
			JOIN {context} ctx ON ctx.id = ra.contextid
			WHERE ra.userid = u.id AND ctx.contextlevel = ? AND ctx.instanceid = c.id
		)
		LEFT JOIN {quiz_attempts} qa ON qa.quiz = q.id AND qa.userid = u.id
		WHERE c.id = ?
		ORDER BY q.name, cm.id, u.lastname, u.firstname, u.id, qa.attempt`)

	rows, err := s.db.QueryContext(ctx, query, contextLevelCourse, courseID)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var attempt sql.NullInt64
		var state sql.NullString
		if err := rows.Scan(
			&c.UserID, &c.LastName, &c.FirstName, &c.Username,
			&c.QuizName, &c.QuizModuleID, &c.Availability,
			&attempt, &state,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if attempt.Valid {
			n := int(attempt.Int64)
			c.AttemptNumber = &n
		}
		if state.Valid {
			c.AttemptState = model.ParseAttemptState(&state.String)
			c.AttemptStateRaw = state.String
		} else {
			c.AttemptState = model.ParseAttemptState(nil)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CourseRoles returns the role short names each user holds in the course,
// including roles assigned in the system context.
func (s *Store) CourseRoles(ctx context.Context, courseID int64) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT DISTINCT ra.userid, r.shortname
		FROM {role_assignments} ra
		JOIN {role} r ON r.id = ra.roleid
		JOIN {context} ctx ON ctx.id = ra.contextid
		WHERE (ctx.contextlevel = ? AND ctx.instanceid = ?) OR ctx.contextlevel = ?
		ORDER BY ra.userid, r.shortname`),
		contextLevelCourse, courseID, contextLevelSystem,
	)
	if err != nil {
		return nil, fmt.Errorf("query course roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[int64][]string)
	for rows.Next() {
		var userID int64
		var shortname string
		if err := rows.Scan(&userID, &shortname); err != nil {
			return nil, err
		}
		roles[userID] = append(roles[userID], shortname)
	}
	return roles, rows.Err()
}

// UserCourseRoles returns the role short names one user holds in the course.
func (s *Store) UserCourseRoles(ctx context.Context, courseID, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT DISTINCT r.shortname
		FROM {role_assignments} ra
		JOIN {role} r ON r.id = ra.roleid
		JOIN {context} ctx ON ctx.id = ra.contextid
		WHERE ra.userid = ?
		  AND ((ctx.contextlevel = ? AND ctx.instanceid = ?) OR ctx.contextlevel = ?)
		ORDER BY r.shortname`),
		userID, contextLevelCourse, courseID, contextLevelSystem,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// CourseGroups returns each user's groups in the course, ordered by group id.
func (s *Store) CourseGroups(ctx context.Context, courseID int64) (map[int64][]model.Group, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT gm.userid, g.id, g.name
		FROM {groups} g
		JOIN {groups_members} gm ON gm.groupid = g.id
		WHERE g.courseid = ?
		ORDER BY gm.userid, g.id`),
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("query course groups: %w", err)
	}
	defer rows.Close()

	groups := make(map[int64][]model.Group)
	for rows.Next() {
		var userID int64
		var g model.Group
		if err := rows.Scan(&userID, &g.ID, &g.Name); err != nil {
			return nil, err
		}
		groups[userID] = append(groups[userID], g)
	}
	return groups, rows.Err()
}
