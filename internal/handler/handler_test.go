package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
	"github.com/eledia/assessmentreport/internal/store"
)

const testCSRF = "test-csrf-token"

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testSnapshot() model.Snapshot {
	return model.Snapshot{
		Courses: []model.Course{
			{ID: 1, ShortName: "site", FullName: "Front page"},
			{ID: 2, ShortName: "MATH1", FullName: "Mathematics I"},
			{ID: 3, ShortName: "PHYS1", FullName: "Physics I"},
		},
		Users: []model.SnapshotUser{
			{ID: 3, Username: "1001", FirstName: "Bea", LastName: "Berg"},
			{ID: 4, Username: "1002", FirstName: "Carl", LastName: "Adler"},
			{ID: 5, Username: "teacher", FirstName: "Tom", LastName: "Teach"},
		},
		Roles: []model.SnapshotRole{
			{ID: 3, ShortName: "editingteacher"},
			{ID: 5, ShortName: "student"},
		},
		RoleAssignments: []model.SnapshotRoleAssignment{
			{UserID: 3, RoleID: 5, CourseID: 2},
			{UserID: 4, RoleID: 5, CourseID: 2},
			{UserID: 5, RoleID: 3, CourseID: 2},
		},
		Quizzes: []model.SnapshotQuiz{
			{ID: 1, CourseID: 2, ModuleID: 100, Name: "Algebra"},
		},
		Attempts: []model.SnapshotAttempt{
			{QuizID: 1, UserID: 3, Attempt: 1, State: "finished"},
		},
	}
}

type testEnv struct {
	store   *store.Store
	router  http.Handler
	admin   *http.Cookie
	teacher *http.Cookie
	student *http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvDSN(t, ":memory:")
}

func newTestEnvDSN(t *testing.T, dsn string) *testEnv {
	t.Helper()
	s, err := store.New(store.DriverSQLite, dsn, "mdl_")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.ImportSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	h, err := New(s, model.ReportConfig{HostURL: "https://lms.example.org", Lang: "en"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)

	env := &testEnv{store: s, router: r}
	env.admin = env.login(t, "admin", model.ViewerRoleAdmin, 0)
	env.teacher = env.login(t, "tom", model.ViewerRoleTeacher, 5)
	env.student = env.login(t, "bea", model.ViewerRoleTeacher, 3)
	return env
}

// login creates a viewer and returns a session cookie for it.
func (e *testEnv) login(t *testing.T, username string, role model.ViewerRole, lmsUserID int64) *http.Cookie {
	t.Helper()
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-"+username), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	id, err := e.store.CreateViewer(ctx, model.Viewer{
		Username:     username,
		DisplayName:  strings.ToUpper(username),
		PasswordHash: string(hash),
		Role:         role,
		LMSUserID:    lmsUserID,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateViewer: %v", err)
	}
	token, err := e.store.CreateAuthSession(ctx, id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func (e *testEnv) get(session *http.Cookie, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) post(session *http.Cookie, target string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", testCSRF)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	if session != nil {
		req.AddCookie(session)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthRedirects(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(nil, "/")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("redirected to %q, want /login", loc)
	}

	rec = env.get(&http.Cookie{Name: sessionCookieName, Value: "bogus"}, "/course_overview?courseid=2")
	if rec.Code != http.StatusSeeOther {
		t.Errorf("bogus session: expected 303, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(nil, "/login")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /login: %d", rec.Code)
	}
	var csrfSet bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName && c.Value != "" {
			csrfSet = true
		}
	}
	if !csrfSet {
		t.Error("GET /login did not set a CSRF cookie")
	}

	rec = env.post(nil, "/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Invalid username or password.") {
		t.Error("bad password: missing error message")
	}

	rec = env.post(nil, "/login", url.Values{"username": {"admin"}, "password": {"secret-admin"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("good password: expected 303, got %d", rec.Code)
	}
	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			session = c
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("no session cookie after login")
	}
	if rec := env.get(session, "/"); rec.Code != http.StatusOK {
		t.Errorf("GET / with new session: %d", rec.Code)
	}

	if rec := env.post(session, "/logout", nil); rec.Code != http.StatusSeeOther {
		t.Errorf("logout: expected 303, got %d", rec.Code)
	}
	if rec := env.get(session, "/"); rec.Code != http.StatusSeeOther {
		t.Errorf("session still valid after logout: %d", rec.Code)
	}
}

func TestCSRFRejected(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{"username": {"admin"}, "password": {"secret-admin"}, "csrf_token": {"other"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("mismatched CSRF token: expected 403, got %d", rec.Code)
	}
}

var csrfFieldRe = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

// browser keeps the cookies set by earlier responses, like a real client.
type browser struct {
	env     *testEnv
	cookies map[string]*http.Cookie
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.env.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func TestCSRFTokenSurvivesDownload(t *testing.T) {
	env := newTestEnv(t)
	b := &browser{env: env, cookies: map[string]*http.Cookie{sessionCookieName: env.teacher}}

	rec := b.do(httptest.NewRequest(http.MethodGet, "/course_overview?courseid=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET page: %d", rec.Code)
	}
	m := csrfFieldRe.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatal("page has no csrf_token field")
	}
	pageToken := m[1]

	download := func() int {
		form := url.Values{"courseid": {"2"}, "csrf_token": {pageToken}}
		req := httptest.NewRequest(http.MethodPost, "/course_overview", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return b.do(req).Code
	}

	if code := download(); code != http.StatusOK {
		t.Fatalf("first download: expected 200, got %d", code)
	}
	if code := download(); code != http.StatusOK {
		t.Errorf("second download from the same page: expected 200, got %d", code)
	}

	// Opening the report in another tab keeps the first tab's form valid.
	if rec := b.do(httptest.NewRequest(http.MethodGet, "/course_overview?courseid=2", nil)); rec.Code != http.StatusOK {
		t.Fatalf("GET in second tab: %d", rec.Code)
	}
	if code := download(); code != http.StatusOK {
		t.Errorf("download after another GET: expected 200, got %d", code)
	}
}

func TestCourseLookupErrorWithoutCapability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.db")
	env := newTestEnvDSN(t, path)
	// A teacher account without an LMS user never reaches the role query.
	nolms := env.login(t, "nolms", model.ViewerRoleTeacher, 0)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`DROP TABLE mdl_course`); err != nil {
		t.Fatalf("drop course table: %v", err)
	}

	if rec := env.get(nolms, "/course_overview?courseid=2"); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestIndexListsVisibleCourses(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		session *http.Cookie
		want    []string
		notWant []string
	}{
		{"admin", env.admin, []string{"Mathematics I", "Physics I"}, []string{"Front page"}},
		{"teacher", env.teacher, []string{"Mathematics I"}, []string{"Physics I", "Front page"}},
		{"student", env.student, []string{"There are no courses"}, []string{"Mathematics I"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(tt.session, "/")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			body := rec.Body.String()
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("body missing %q", s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(body, s) {
					t.Errorf("body unexpectedly contains %q", s)
				}
			}
		})
	}
}

func TestCourseOverviewStatus(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		session *http.Cookie
		target  string
		want    int
	}{
		{"missing id", env.admin, "/course_overview", http.StatusBadRequest},
		{"non-numeric id", env.admin, "/course_overview?courseid=abc", http.StatusBadRequest},
		{"unknown course", env.admin, "/course_overview?courseid=99", http.StatusNotFound},
		{"unknown course without capability", env.student, "/course_overview?courseid=99", http.StatusNotFound},
		{"site course", env.admin, "/course_overview?courseid=1", http.StatusForbidden},
		{"no capability", env.student, "/course_overview?courseid=2", http.StatusForbidden},
		{"teacher", env.teacher, "/course_overview?courseid=2", http.StatusOK},
		{"admin", env.admin, "/course_overview?courseid=2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.get(tt.session, tt.target); rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCourseOverviewPage(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(env.teacher, "/course_overview?courseid=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, s := range []string{
		"Assessment Participants",
		"Mathematics I",
		"2 rows",
		`href="https://lms.example.org/user/profile.php?id=3"`,
		`href="https://lms.example.org/mod/quiz/view.php?id=100"`,
		"Berg", "Adler", "finished", "not started",
		`name="courseid" value="2"`,
		`name="csrf_token"`,
	} {
		if !strings.Contains(body, s) {
			t.Errorf("page missing %q", s)
		}
	}
	if strings.Contains(body, "Teach") {
		t.Error("teacher listed as participant")
	}
}

func TestCourseOverviewEmptyCourse(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(env.admin, "/course_overview?courseid=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "No participants match this report.") {
		t.Error("missing empty notice")
	}
	if strings.Contains(body, "<table") {
		t.Error("empty course rendered a table")
	}
}

func TestCourseOverviewPDF(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(env.teacher, "/course_overview", url.Values{"courseid": {"2"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	disp, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("parse Content-Disposition: %v", err)
	}
	if disp != "attachment" {
		t.Errorf("disposition = %q, want attachment", disp)
	}
	if !strings.HasPrefix(params["filename"], "Mathematics I_") || !strings.HasSuffix(params["filename"], ".pdf") {
		t.Errorf("filename = %q", params["filename"])
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
		t.Error("body is not a PDF")
	}

	if rec := env.post(env.student, "/course_overview", url.Values{"courseid": {"2"}}); rec.Code != http.StatusForbidden {
		t.Errorf("no capability: expected 403, got %d", rec.Code)
	}
	if rec := env.post(env.admin, "/course_overview", url.Values{"courseid": {"x"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestAdminRequiresAdminRole(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{"/admin/users", "/admin/import"} {
		if rec := env.get(env.teacher, target); rec.Code != http.StatusForbidden {
			t.Errorf("GET %s as teacher: expected 403, got %d", target, rec.Code)
		}
		if rec := env.get(env.admin, target); rec.Code != http.StatusOK {
			t.Errorf("GET %s as admin: expected 200, got %d", target, rec.Code)
		}
	}
}

func TestAdminCreateAndToggleViewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec := env.post(env.admin, "/admin/users", url.Values{
		"username":    {"ina"},
		"password":    {"long-enough"},
		"role":        {"teacher"},
		"lms_user_id": {"5"},
	})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("create viewer: expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	v, err := env.store.GetViewerByUsername(ctx, "ina")
	if err != nil || v == nil {
		t.Fatalf("viewer not created: %v", err)
	}
	if v.DisplayName != "ina" || v.LMSUserID != 5 || v.Role != model.ViewerRoleTeacher || !v.Active {
		t.Errorf("created viewer = %+v", v)
	}

	invalid := []url.Values{
		{"username": {""}, "password": {"long-enough"}, "role": {"teacher"}},
		{"username": {"x"}, "password": {"short"}, "role": {"teacher"}},
		{"username": {"y"}, "password": {"long-enough"}, "role": {"root"}},
		{"username": {"z"}, "password": {"long-enough"}, "role": {"teacher"}, "lms_user_id": {"abc"}},
	}
	for _, form := range invalid {
		if rec := env.post(env.admin, "/admin/users", form); rec.Code != http.StatusBadRequest {
			t.Errorf("create %v: expected 400, got %d", form, rec.Code)
		}
	}

	rec = env.post(env.admin, "/admin/users/"+strconv.FormatInt(v.ID, 10)+"/toggle", nil)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("toggle: expected 303, got %d", rec.Code)
	}
	v, _ = env.store.GetViewerByID(ctx, v.ID)
	if v.Active {
		t.Error("viewer still active after toggle")
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (e *testEnv) upload(t *testing.T, session *http.Cookie, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("csrf_token", testCSRF); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("snapshot_file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/admin/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminImportSnapshot(t *testing.T) {
	env := newTestEnv(t)

	snap := model.Snapshot{
		Courses: []model.Course{{ID: 4, ShortName: "CHEM1", FullName: "Chemistry I"}},
		Users:   []model.SnapshotUser{{ID: 9, Username: "1009", FirstName: "Nia", LastName: "Nord"}},
	}
	data := mustJSON(snap)

	rec := env.upload(t, env.admin, "chem.json", data)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Imported 1 courses, 1 users and 0 quizzes.") {
		t.Errorf("missing success message: %s", rec.Body.String())
	}
	c, err := env.store.GetCourse(context.Background(), 4)
	if err != nil || c == nil || c.FullName != "Chemistry I" {
		t.Errorf("course not imported: %+v, %v", c, err)
	}

	rec = env.upload(t, env.admin, "chem.json", data)
	if !strings.Contains(rec.Body.String(), "This file has already been imported.") {
		t.Error("duplicate upload not detected")
	}

	rec = env.upload(t, env.admin, "broken.json", []byte("{"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("broken JSON: expected 400, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.get(env.admin, "/course_overview?courseid=2")

	rec := env.get(nil, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `assessment_reports_rendered_total{format="html"}`) {
		t.Error("metrics missing rendered report counter")
	}
}
