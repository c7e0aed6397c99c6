package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/eledia/assessmentreport/internal/model"
)

// ImportSnapshot writes the rows of an LMS snapshot into the local LMS tables.
// Existing rows with the same ids are updated; nothing is deleted.
func (s *Store) ImportSnapshot(ctx context.Context, snap model.Snapshot) error {
	if s.driver != DriverSQLite {
		return ErrReadOnlyLMS
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, s.q(query), args...)
		return err
	}

	for _, c := range snap.Courses {
		if err := exec(
			`INSERT INTO {course} (id, shortname, fullname) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET shortname = excluded.shortname, fullname = excluded.fullname`,
			c.ID, c.ShortName, c.FullName,
		); err != nil {
			return fmt.Errorf("insert course %d: %w", c.ID, err)
		}
	}

	for _, u := range snap.Users {
		deleted := 0
		if u.Deleted {
			deleted = 1
		}
		if err := exec(
			`INSERT INTO {user} (id, username, firstname, lastname, deleted) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET username = excluded.username, firstname = excluded.firstname,
			   lastname = excluded.lastname, deleted = excluded.deleted`,
			u.ID, u.Username, u.FirstName, u.LastName, deleted,
		); err != nil {
			return fmt.Errorf("insert user %d: %w", u.ID, err)
		}
	}

	for _, r := range snap.Roles {
		if err := exec(
			`INSERT INTO {role} (id, shortname) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET shortname = excluded.shortname`,
			r.ID, r.ShortName,
		); err != nil {
			return fmt.Errorf("insert role %d: %w", r.ID, err)
		}
	}

	for _, ra := range snap.RoleAssignments {
		level, instance := contextLevelCourse, ra.CourseID
		if ra.CourseID == 0 {
			level, instance = contextLevelSystem, 0
		}
		contextID, err := s.ensureContext(ctx, tx, level, instance)
		if err != nil {
			return err
		}
		if err := exec(
			`INSERT INTO {role_assignments} (roleid, contextid, userid) VALUES (?, ?, ?)
			 ON CONFLICT(roleid, contextid, userid) DO NOTHING`,
			ra.RoleID, contextID, ra.UserID,
		); err != nil {
			return fmt.Errorf("insert role assignment for user %d: %w", ra.UserID, err)
		}
	}

	if len(snap.Quizzes) > 0 {
		moduleID, err := s.ensureModule(ctx, tx, "quiz")
		if err != nil {
			return err
		}
		for _, qz := range snap.Quizzes {
			if err := exec(
				`INSERT INTO {quiz} (id, course, name) VALUES (?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET course = excluded.course, name = excluded.name`,
				qz.ID, qz.CourseID, qz.Name,
			); err != nil {
				return fmt.Errorf("insert quiz %d: %w", qz.ID, err)
			}
			var availability any
			if qz.Availability != "" {
				availability = qz.Availability
			}
			if err := exec(
				`INSERT INTO {course_modules} (id, course, module, instance, availability) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET course = excluded.course, module = excluded.module,
				   instance = excluded.instance, availability = excluded.availability`,
				qz.ModuleID, qz.CourseID, moduleID, qz.ID, availability,
			); err != nil {
				return fmt.Errorf("insert course module %d: %w", qz.ModuleID, err)
			}
		}
	}

	for _, a := range snap.Attempts {
		if err := exec(
			`INSERT INTO {quiz_attempts} (quiz, userid, attempt, state) VALUES (?, ?, ?, ?)
			 ON CONFLICT(quiz, userid, attempt) DO UPDATE SET state = excluded.state`,
			a.QuizID, a.UserID, a.Attempt, a.State,
		); err != nil {
			return fmt.Errorf("insert attempt %d of user %d: %w", a.Attempt, a.UserID, err)
		}
	}

	for _, g := range snap.Groups {
		if err := exec(
			`INSERT INTO {groups} (id, courseid, name) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET courseid = excluded.courseid, name = excluded.name`,
			g.ID, g.CourseID, g.Name,
		); err != nil {
			return fmt.Errorf("insert group %d: %w", g.ID, err)
		}
	}

	for _, m := range snap.GroupMembers {
		if err := exec(
			`INSERT INTO {groups_members} (groupid, userid) VALUES (?, ?)
			 ON CONFLICT(groupid, userid) DO NOTHING`,
			m.GroupID, m.UserID,
		); err != nil {
			return fmt.Errorf("insert member %d of group %d: %w", m.UserID, m.GroupID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if snap.SiteAdmins != nil {
		if err := s.SetSiteAdminIDs(ctx, snap.SiteAdmins); err != nil {
			return fmt.Errorf("set site admins: %w", err)
		}
	}

	slog.Info("imported snapshot",
		"courses", len(snap.Courses),
		"users", len(snap.Users),
		"quizzes", len(snap.Quizzes),
		"attempts", len(snap.Attempts),
		"groups", len(snap.Groups),
	)
	return nil
}

func (s *Store) ensureContext(ctx context.Context, tx *sql.Tx, level int, instance int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.q(
		`INSERT INTO {context} (contextlevel, instanceid) VALUES (?, ?)
		 ON CONFLICT(contextlevel, instanceid) DO UPDATE SET instanceid = excluded.instanceid
		 RETURNING id`),
		level, instance,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure context %d/%d: %w", level, instance, err)
	}
	return id, nil
}

func (s *Store) ensureModule(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.q(
		`INSERT INTO {modules} (name) VALUES (?)
		 ON CONFLICT(name) DO UPDATE SET name = excluded.name
		 RETURNING id`),
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure module %s: %w", name, err)
	}
	return id, nil
}
