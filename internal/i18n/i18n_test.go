package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nicksnyder/go-i18n/v2/i18n"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "CourseOverview"); got != "Assessment Participants" {
		t.Errorf("T(CourseOverview) = %q, want 'Assessment Participants'", got)
	}
	if got := T(ctx, "StatusNotStarted"); got != "not started" {
		t.Errorf("T(StatusNotStarted) = %q, want 'not started'", got)
	}
}

func TestTranslateGerman(t *testing.T) {
	ctx := initLang(t, "de")

	tests := map[string]string{
		"CourseOverview":      "Assessment Teilnehmerliste",
		"MatriculationNumber": "Matrikelnummer",
		"StatusNotStarted":    "nicht gestartet",
		"StatusInProgress":    "gestartet",
		"StatusFinished":      "beendet",
		"Attempt":             "Versuch",
	}
	for id, want := range tests {
		if got := T(ctx, id); got != want {
			t.Errorf("T(%s) = %q, want %q", id, got, want)
		}
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	en := initLang(t, "en")
	de := WithLocalizer(context.Background(), NewLocalizer("de"))

	// A message that merely equals its id ("Status", "Group") is still
	// translated, so look for a lookup error instead of comparing strings.
	for _, id := range []string{"LastName", "FirstName", "Group", "Assessment", "Status", "PDFDownload", "Forbidden"} {
		for lang, ctx := range map[string]context.Context{"en": en, "de": de} {
			_, tag, err := localizerFromCtx(ctx).LocalizeWithTag(&i18n.LocalizeConfig{MessageID: id})
			if err != nil {
				t.Errorf("missing %s translation for %s: %v", lang, id, err)
				continue
			}
			if tag.String() != lang {
				t.Errorf("%s: %s resolved to %s", id, lang, tag)
			}
		}
	}
}

func TestUnknownMessageReturnsID(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("T(NoSuchMessage) = %q", got)
	}
	if _, err := localizerFromCtx(ctx).Localize(&i18n.LocalizeConfig{MessageID: "NoSuchMessage"}); err == nil {
		t.Error("expected an error for an unknown message")
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "RecordCount", 1); got != "1 row" {
		t.Errorf("Tp(RecordCount, 1) = %q, want '1 row'", got)
	}
	if got := Tp(ctx, "RecordCount", 5); got != "5 rows" {
		t.Errorf("Tp(RecordCount, 5) = %q, want '5 rows'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ImportSuccess", map[string]any{"Courses": 2, "Users": 10, "Quizzes": 3})
	if got != "Imported 2 courses, 10 users and 3 quizzes." {
		t.Errorf("Td(ImportSuccess) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareHonoursAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Group")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Gruppe" {
		t.Errorf("with Accept-Language de: got %q, want 'Gruppe'", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Group" {
		t.Errorf("without Accept-Language: got %q, want 'Group'", got)
	}
}
