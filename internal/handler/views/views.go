// Package views holds the templ components of the report server. The
// *_templ.go files are generated from the .templ sources with templ generate.
package views

//go:generate templ generate

import (
	"context"
	"strconv"

	appI18n "github.com/eledia/assessmentreport/internal/i18n"
	"github.com/eledia/assessmentreport/internal/model"
)

// Path prefixes an application path with the deployment base path.
func Path(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func generatedAt(ctx context.Context, rep *model.CourseReport) string {
	return appI18n.Td(ctx, "GeneratedAt", map[string]any{"Time": rep.GeneratedAt.Format("2006-01-02 15:04")})
}

func lmsUserID(v model.Viewer) string {
	if v.LMSUserID == 0 {
		return ""
	}
	return strconv.FormatInt(v.LMSUserID, 10)
}

func activeLabel(ctx context.Context, v model.Viewer) string {
	if v.Active {
		return appI18n.T(ctx, "Active")
	}
	return appI18n.T(ctx, "Inactive")
}
