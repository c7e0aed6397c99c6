package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
)

const (
	pdfMargin     = 10.0
	pdfRowHeight  = 6.0
	pdfFontFamily = "Helvetica"
	pdfFontSize   = 10.0
)

var stripeRGB = map[string][3]int{
	stripeEven: {211, 211, 211},
	stripeOdd:  {255, 255, 255},
}

// PDFFileName returns the download name for a course report generated at t.
func PDFFileName(c model.Course, t time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return '_'
		}
		return r
	}, c.FullName)
	return name + "_" + t.Format("20060102150405") + ".pdf"
}

// RenderPDF writes the report as an A4 portrait PDF to w.
func RenderPDF(ctx context.Context, w io.Writer, rep *model.CourseReport, hostURL string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(appI18n.T(ctx, "CourseOverview")+" - "+rep.Course.FullName, true)
	pdf.SetCreator("assessmentreport", true)
	if !rep.GeneratedAt.IsZero() {
		pdf.SetCreationDate(rep.GeneratedAt)
	}

	// Core fonts are cp1252.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, pageH := pdf.GetPageSize()
	tableW := pageW - 2*pdfMargin
	widths := make([]float64, len(Columns))
	for i, c := range Columns {
		widths[i] = tableW * float64(c.Width) / 100
	}

	pdf.AddPage()
	pdf.SetFont(pdfFontFamily, "B", 14)
	pdf.CellFormat(0, 8, tr(appI18n.T(ctx, "CourseOverview")), "", 1, "L", false, 0, "")
	pdf.SetFont(pdfFontFamily, "", pdfFontSize)
	pdf.CellFormat(0, 6, tr(rep.Course.FullName), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	if len(rep.Records) == 0 {
		return pdf.Output(w)
	}

	header := func() {
		pdf.SetFont(pdfFontFamily, "B", pdfFontSize)
		for i, c := range Columns {
			pdf.CellFormat(widths[i], pdfRowHeight, fit(pdf, tr(ColumnLabel(ctx, c)), widths[i]), "B", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont(pdfFontFamily, "", pdfFontSize)
	}
	header()

	for i, rec := range rep.Records {
		if pdf.GetY()+pdfRowHeight > pageH-pdfMargin {
			pdf.AddPage()
			header()
		}
		rgb := stripeRGB[StripeColor(i)]
		pdf.SetFillColor(rgb[0], rgb[1], rgb[2])

		cells := []struct {
			text string
			link string
		}{
			{fmt.Sprint(i + 1), ""},
			{rec.LastName, ProfileURL(hostURL, rec.UserID)},
			{rec.FirstName, ""},
			{rec.Username, ""},
			{rec.GroupName, ""},
			{rec.QuizName, QuizURL(hostURL, rec.QuizModuleID)},
			{AttemptLabel(rec), ""},
			{StatusLabel(ctx, rec), ""},
		}
		for j, c := range cells {
			pdf.CellFormat(widths[j], pdfRowHeight, fit(pdf, tr(c.text), widths[j]), "", 0, "L", true, 0, c.link)
		}
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}

// fit shortens s with a trailing "..." until it fits a cell of width w.
func fit(pdf *fpdf.Fpdf, s string, w float64) string {
	limit := w - 2*pdf.GetCellMargin()
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > limit {
		s = s[:len(s)-1]
	}
	return s + "..."
}
