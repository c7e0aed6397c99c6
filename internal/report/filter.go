package report

import (
	"regexp"
	"strings"

	"github.com/eledia/assessmentreport/internal/availability"
	"github.com/eledia/assessmentreport/internal/model"
)

const studentRole = "student"

// numericRe accepts what the LMS treats as a numeric string: optional
// surrounding whitespace, a sign, digits with an optional fraction, and an
// optional exponent.
var numericRe = regexp.MustCompile(`^[ \t\n\r\v\f]*[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?[ \t\n\r\v\f]*$`)

// IsNumeric reports whether a username looks like a matriculation number.
func IsNumeric(s string) bool {
	return numericRe.MatchString(s)
}

// FilterInput is everything the visibility filter needs besides the rows.
type FilterInput struct {
	Roles        map[int64][]string      // user id -> role short names
	Groups       map[int64][]model.Group // user id -> course groups, by group id
	SiteAdmins   map[int64]bool
	Restrictions model.GroupRestriction
}

// Restrictions extracts the group restriction of every quiz module that
// appears in cands. Modules whose availability names no group are left out.
func Restrictions(cands []model.Candidate) model.GroupRestriction {
	out := make(model.GroupRestriction)
	seen := make(map[int64]bool)
	for _, c := range cands {
		if seen[c.QuizModuleID] {
			continue
		}
		seen[c.QuizModuleID] = true
		ids := availability.GroupIDs(c.Availability)
		if len(ids) == 0 {
			continue
		}
		allowed := make(map[int64]bool, len(ids))
		for _, id := range ids {
			allowed[id] = true
		}
		out[c.QuizModuleID] = allowed
	}
	return out
}

// Filter keeps the candidate rows a student-participation report shows, in
// their original order.
func Filter(cands []model.Candidate, in FilterInput) []model.ParticipantRecord {
	eligible := make(map[int64]bool)
	checked := make(map[int64]bool)

	var out []model.ParticipantRecord
	for _, c := range cands {
		if !checked[c.UserID] {
			checked[c.UserID] = true
			eligible[c.UserID] = isEligible(c.UserID, c.Username, in)
		}
		if !eligible[c.UserID] {
			continue
		}

		groups := in.Groups[c.UserID]
		if allowed := in.Restrictions[c.QuizModuleID]; len(allowed) > 0 {
			var visible []model.Group
			for _, g := range groups {
				if allowed[g.ID] {
					visible = append(visible, g)
				}
			}
			if len(visible) == 0 {
				continue
			}
			groups = visible
		}

		rec := c.ParticipantRecord
		rec.GroupID, rec.GroupName = groupColumn(groups)
		out = append(out, rec)
	}
	return out
}

func isEligible(userID int64, username string, in FilterInput) bool {
	if in.SiteAdmins[userID] {
		return false
	}
	if !IsNumeric(username) {
		return false
	}
	roles := in.Roles[userID]
	if len(roles) == 0 {
		return false
	}
	for _, r := range roles {
		if r != studentRole {
			return false
		}
	}
	return true
}

func groupColumn(groups []model.Group) (int64, string) {
	if len(groups) == 0 {
		return 0, ""
	}
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return groups[0].ID, strings.Join(names, ", ")
}
