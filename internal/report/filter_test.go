package report

import (
	"os"
	"testing"

	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func intp(n int) *int { return &n }

func cand(userID int64, username, quiz string, cmid int64, availability string, attempt *int) model.Candidate {
	state := model.AttemptNotStarted
	if attempt != nil {
		state = model.AttemptFinished
	}
	return model.Candidate{
		ParticipantRecord: model.ParticipantRecord{
			UserID:        userID,
			LastName:      "Last" + username,
			FirstName:     "First" + username,
			Username:      username,
			QuizName:      quiz,
			QuizModuleID:  cmid,
			AttemptNumber: attempt,
			AttemptState:  state,
		},
		Availability: availability,
	}
}

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"123456", true},
		{"007", true},
		{" 42", true},
		{"42 ", true},
		{"-5", true},
		{"+5", true},
		{"1.5", true},
		{".5", true},
		{"5.", true},
		{"1e3", true},
		{"1E-3", true},
		{"", false},
		{" ", false},
		{"admin", false},
		{"12a", false},
		{"0x1A", false},
		{"1_000", false},
		{"1e", false},
		{"--1", false},
		{"1 2", false},
	}
	for _, tt := range tests {
		if got := IsNumeric(tt.in); got != tt.want {
			t.Errorf("IsNumeric(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRestrictions(t *testing.T) {
	cands := []model.Candidate{
		cand(1, "1", "Q1", 10, `{"op":"&","c":[{"type":"group","id":4},{"type":"group","id":5}]}`, nil),
		cand(2, "2", "Q1", 10, `{"op":"&","c":[{"type":"group","id":4},{"type":"group","id":5}]}`, nil),
		cand(1, "1", "Q2", 11, ``, nil),
		cand(1, "1", "Q3", 12, `{"op":"&","c":[{"type":"date","t":1}]}`, nil),
		cand(1, "1", "Q4", 13, `not json`, nil),
	}
	r := Restrictions(cands)
	if len(r) != 1 {
		t.Fatalf("expected 1 restricted quiz, got %d: %v", len(r), r)
	}
	if !r[10][4] || !r[10][5] || len(r[10]) != 2 {
		t.Errorf("restriction of 10 = %v, want {4,5}", r[10])
	}
}

func TestFilterUserEligibility(t *testing.T) {
	cands := []model.Candidate{
		cand(1, "1001", "Q", 10, "", nil), // student
		cand(2, "1002", "Q", 10, "", nil), // site admin
		cand(3, "tom", "Q", 10, "", nil),  // non-numeric username
		cand(4, "1004", "Q", 10, "", nil), // student and teacher
		cand(5, "1005", "Q", 10, "", nil), // no roles
		cand(6, "1006", "Q", 10, "", nil), // student twice
		cand(7, "1007", "Q", 10, "", nil), // guest only
	}
	in := FilterInput{
		Roles: map[int64][]string{
			1: {"student"},
			2: {"student"},
			3: {"student"},
			4: {"student", "teacher"},
			6: {"student", "student"},
			7: {"guest"},
		},
		SiteAdmins: map[int64]bool{2: true},
	}

	got := Filter(cands, in)
	var ids []int64
	for _, r := range got {
		ids = append(ids, r.UserID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 6 {
		t.Errorf("kept users %v, want [1 6]", ids)
	}
}

func TestFilterRestrictedQuizExcludesOtherGroups(t *testing.T) {
	const restricted = `{"op":"&","c":[{"type":"group","id":10}]}`
	cands := []model.Candidate{
		cand(1, "1", "Restricted", 100, restricted, nil),
		cand(2, "2", "Restricted", 100, restricted, nil),
		cand(3, "3", "Restricted", 100, restricted, nil),
		cand(1, "1", "Open", 101, "", nil),
		cand(2, "2", "Open", 101, "", nil),
		cand(3, "3", "Open", 101, "", nil),
	}
	in := FilterInput{
		Roles: map[int64][]string{1: {"student"}, 2: {"student"}, 3: {"student"}},
		Groups: map[int64][]model.Group{
			1: {{ID: 10, Name: "A"}, {ID: 11, Name: "B"}},
			2: {{ID: 11, Name: "B"}},
		},
	}
	in.Restrictions = Restrictions(cands)

	got := Filter(cands, in)

	for _, r := range got {
		if r.QuizModuleID != 100 {
			continue
		}
		if r.UserID != 1 {
			t.Errorf("user %d outside group 10 appears in restricted quiz", r.UserID)
		}
		if r.GroupID != 10 || r.GroupName != "A" {
			t.Errorf("restricted row group = %d %q, want 10 'A'", r.GroupID, r.GroupName)
		}
	}

	open := 0
	for _, r := range got {
		if r.QuizModuleID == 101 {
			open++
		}
	}
	if open != 3 {
		t.Errorf("expected all 3 students in open quiz, got %d", open)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 rows, got %d", len(got))
	}
}

func TestFilterGroupColumn(t *testing.T) {
	cands := []model.Candidate{
		cand(1, "1", "Open", 101, "", nil),
		cand(2, "2", "Open", 101, "", nil),
		cand(1, "1", "Either", 102, `{"op":"|","c":[{"type":"group","id":11},{"type":"group","id":10}]}`, nil),
	}
	in := FilterInput{
		Roles: map[int64][]string{1: {"student"}, 2: {"student"}},
		Groups: map[int64][]model.Group{
			1: {{ID: 10, Name: "A"}, {ID: 11, Name: "B"}, {ID: 12, Name: "C"}},
		},
	}
	in.Restrictions = Restrictions(cands)

	got := Filter(cands, in)
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got[0].GroupName != "A, B, C" || got[0].GroupID != 10 {
		t.Errorf("open quiz group = %d %q, want 10 'A, B, C'", got[0].GroupID, got[0].GroupName)
	}
	if got[1].GroupName != "" || got[1].GroupID != 0 {
		t.Errorf("user without groups: got %d %q", got[1].GroupID, got[1].GroupName)
	}
	if got[2].GroupName != "A, B" {
		t.Errorf("restricted quiz group = %q, want 'A, B'", got[2].GroupName)
	}
}

func TestFilterOncePerAttemptAndOrderPreserved(t *testing.T) {
	cands := []model.Candidate{
		cand(2, "2", "Q", 10, "", intp(1)),
		cand(1, "1", "Q", 10, "", nil),
		cand(2, "2", "Q", 10, "", intp(2)),
		cand(3, "3", "Q", 10, "", intp(1)),
	}
	in := FilterInput{
		Roles: map[int64][]string{1: {"student"}, 2: {"student"}, 3: {"student"}},
		Groups: map[int64][]model.Group{
			2: {{ID: 1, Name: "G1"}, {ID: 2, Name: "G2"}},
		},
	}

	got := Filter(cands, in)
	if len(got) != len(cands) {
		t.Fatalf("expected %d rows, got %d", len(cands), len(got))
	}
	for i := range cands {
		if got[i].UserID != cands[i].UserID || AttemptLabel(got[i]) != AttemptLabel(cands[i].ParticipantRecord) {
			t.Errorf("row %d = user %d attempt %s, want user %d attempt %s", i,
				got[i].UserID, AttemptLabel(got[i]), cands[i].UserID, AttemptLabel(cands[i].ParticipantRecord))
		}
	}
}

func TestFilterMalformedAvailabilityIsUnrestricted(t *testing.T) {
	cands := []model.Candidate{cand(1, "1", "Q", 10, `{"op":"&","c":[{"type":"group","id":`, nil)}
	in := FilterInput{Roles: map[int64][]string{1: {"student"}}}
	in.Restrictions = Restrictions(cands)

	if got := Filter(cands, in); len(got) != 1 {
		t.Errorf("expected row to be kept, got %d rows", len(got))
	}
}

func TestFilterEmpty(t *testing.T) {
	if got := Filter(nil, FilterInput{}); len(got) != 0 {
		t.Errorf("expected no rows, got %d", len(got))
	}
}
