package model

import "time"

// ReportExport is the top-level JSON structure for a report export.
type ReportExport struct {
	Course      Course              `json:"course"`
	HostURL     string              `json:"host_url"`
	GeneratedAt time.Time           `json:"generated_at"`
	NumRecords  int                 `json:"num_records"`
	Records     []ParticipantRecord `json:"records"`
}

// NewReportExport wraps a report for JSON output.
func NewReportExport(r *CourseReport, hostURL string) ReportExport {
	records := r.Records
	if records == nil {
		records = []ParticipantRecord{}
	}
	return ReportExport{
		Course:      r.Course,
		HostURL:     hostURL,
		GeneratedAt: r.GeneratedAt,
		NumRecords:  len(records),
		Records:     records,
	}
}
