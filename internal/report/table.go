package report

import (
	"context"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
)

// Column is one column of the participation table.
type Column struct {
	Width   int    // percent of the table width
	LabelID string // translation id, empty for the row number column
}

// Columns is the fixed column set shared by the HTML and PDF output.
var Columns = []Column{
	{5, ""},
	{16, "LastName"},
	{16, "FirstName"},
	{13, "MatriculationNumber"},
	{15, "Group"},
	{15, "Assessment"},
	{10, "Attempt"},
	{10, "Status"},
}

const (
	stripeEven = "LightGray"
	stripeOdd  = "white"
)

// StripeColor returns the row background for the row at index i.
func StripeColor(i int) string {
	if i%2 == 0 {
		return stripeEven
	}
	return stripeOdd
}

// ColumnLabel returns the translated header of a column.
func ColumnLabel(ctx context.Context, c Column) string {
	if c.LabelID == "" {
		return ""
	}
	return appI18n.T(ctx, c.LabelID)
}

// StatusLabel returns the translated attempt state. States the report does
// not know are shown as the LMS stores them.
func StatusLabel(ctx context.Context, rec model.ParticipantRecord) string {
	switch rec.AttemptState {
	case model.AttemptNotStarted:
		return appI18n.T(ctx, "StatusNotStarted")
	case model.AttemptInProgress:
		return appI18n.T(ctx, "StatusInProgress")
	case model.AttemptFinished:
		return appI18n.T(ctx, "StatusFinished")
	default:
		return rec.AttemptStateRaw
	}
}

// AttemptLabel returns the attempt number, or "" for users without attempts.
func AttemptLabel(rec model.ParticipantRecord) string {
	if rec.AttemptNumber == nil {
		return ""
	}
	return strconv.Itoa(*rec.AttemptNumber)
}

// ProfileURL links to a user's LMS profile.
func ProfileURL(hostURL string, userID int64) string {
	return strings.TrimRight(hostURL, "/") + "/user/profile.php?id=" + strconv.FormatInt(userID, 10)
}

// QuizURL links to a quiz's LMS page.
func QuizURL(hostURL string, moduleID int64) string {
	return strings.TrimRight(hostURL, "/") + "/mod/quiz/view.php?id=" + strconv.FormatInt(moduleID, 10)
}

// RenderTable renders records as an HTML table. An empty record list renders
// as the empty string.
func RenderTable(ctx context.Context, records []model.ParticipantRecord, hostURL string) string {
	if len(records) == 0 {
		return ""
	}

	esc := templ.EscapeString[string]
	var sb strings.Builder
	sb.WriteString(`<table cellspacing="0" cellpadding="5" border="0" class="flexible generaltable generalbox">`)
	sb.WriteString(`<tr style="font-weight:bold">`)
	for _, c := range Columns {
		sb.WriteString(`<th style="width: ` + strconv.Itoa(c.Width) + `%;">` + esc(ColumnLabel(ctx, c)) + `</th>`)
	}
	sb.WriteString(`</tr>`)

	for i, rec := range records {
		sb.WriteString(`<tr nobr="true" style="background-color:` + StripeColor(i) + `">`)
		cell(&sb, strconv.Itoa(i+1))
		sb.WriteString(`<td>` + link(ProfileURL(hostURL, rec.UserID), rec.LastName) + `</td>`)
		cell(&sb, esc(rec.FirstName))
		cell(&sb, esc(rec.Username))
		cell(&sb, esc(rec.GroupName))
		sb.WriteString(`<td>` + link(QuizURL(hostURL, rec.QuizModuleID), rec.QuizName) + `</td>`)
		cell(&sb, AttemptLabel(rec))
		cell(&sb, esc(StatusLabel(ctx, rec)))
		sb.WriteString(`</tr>`)
	}
	sb.WriteString(`</table>`)
	return sb.String()
}

func cell(sb *strings.Builder, html string) {
	sb.WriteString(`<td>` + html + `</td>`)
}

func link(href, text string) string {
	return `<a target="_new" href="` + templ.EscapeString(href) + `">` + templ.EscapeString(text) + `</a>`
}
