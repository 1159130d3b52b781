package compliance

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ReportFormat specifies the output format for compliance reports.
type ReportFormat string

const (
	FormatJSON ReportFormat = "json"
	FormatText ReportFormat = "text"
)

// IssueCount is one row of the issue histogram.
type IssueCount struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// SiteBreakdown aggregates compliance per site.
type SiteBreakdown struct {
	SiteID    string  `json:"site_id"`
	Total     int     `json:"total"`
	Compliant int     `json:"compliant"`
	Rate      float64 `json:"rate"`
}

// Report is an aggregate view over audit records in a time window.
type Report struct {
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	GeneratedAt     time.Time       `json:"generated_at"`
	TotalEvents     int             `json:"total_events"`
	CompliantEvents int             `json:"compliant_events"`
	AnchoredEvents  int             `json:"anchored_events"`
	ComplianceRate  float64         `json:"compliance_rate"`
	Issues          []IssueCount    `json:"issues,omitempty"`
	Sites           []SiteBreakdown `json:"sites,omitempty"`
}

// Report aggregates the verifier's audit records whose source timestamps
// fall in [periodStart, periodEnd). Pure read; no record is mutated.
func (v *Verifier) Report(periodStart, periodEnd time.Time) *Report {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rep := &Report{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		GeneratedAt: v.now().UTC(),
	}

	issues := make(map[string]*IssueCount)
	sites := make(map[string]*SiteBreakdown)

	for _, rec := range v.records {
		ts := rec.SourceTimestamp
		if ts.Before(periodStart) || !ts.Before(periodEnd) {
			continue
		}

		rep.TotalEvents++
		if rec.Compliant {
			rep.CompliantEvents++
		}
		if rec.AnchorVerified {
			rep.AnchoredEvents++
		}

		for _, is := range rec.Issues {
			row, ok := issues[is.Code]
			if !ok {
				row = &IssueCount{Code: is.Code, Severity: is.Severity}
				issues[is.Code] = row
			}
			row.Count++
		}

		site := rec.SiteID
		if site == "" {
			site = "(unknown)"
		}
		sb, ok := sites[site]
		if !ok {
			sb = &SiteBreakdown{SiteID: site}
			sites[site] = sb
		}
		sb.Total++
		if rec.Compliant {
			sb.Compliant++
		}
	}

	if rep.TotalEvents > 0 {
		rep.ComplianceRate = float64(rep.CompliantEvents) / float64(rep.TotalEvents)
	}

	for _, row := range issues {
		rep.Issues = append(rep.Issues, *row)
	}
	sort.Slice(rep.Issues, func(i, j int) bool {
		if rep.Issues[i].Count != rep.Issues[j].Count {
			return rep.Issues[i].Count > rep.Issues[j].Count
		}
		return rep.Issues[i].Code < rep.Issues[j].Code
	})

	for _, sb := range sites {
		if sb.Total > 0 {
			sb.Rate = float64(sb.Compliant) / float64(sb.Total)
		}
		rep.Sites = append(rep.Sites, *sb)
	}
	sort.Slice(rep.Sites, func(i, j int) bool {
		return rep.Sites[i].SiteID < rep.Sites[j].SiteID
	})

	return rep
}

// Summary returns a one-line summary of the report.
func (rep *Report) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d events, %.1f%% compliant", rep.TotalEvents, rep.ComplianceRate*100)
	if rep.AnchoredEvents > 0 {
		fmt.Fprintf(&sb, ", %d anchor-verified", rep.AnchoredEvents)
	}
	if n := len(rep.Issues); n > 0 {
		fmt.Fprintf(&sb, ", %d issue kinds", n)
	}
	return sb.String()
}

// Write renders the report in the requested format.
func (rep *Report) Write(w io.Writer, format ReportFormat) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case FormatText:
		return rep.writeText(w)
	default:
		return fmt.Errorf("unknown report format: %s", format)
	}
}

func (rep *Report) writeText(w io.Writer) error {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "                         AUDIT COMPLIANCE REPORT")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Period:          %s .. %s\n",
		rep.PeriodStart.UTC().Format(time.RFC3339), rep.PeriodEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Generated:       %s\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Total Events:    %d\n", rep.TotalEvents)
	fmt.Fprintf(w, "Compliant:       %d (%.1f%%)\n", rep.CompliantEvents, rep.ComplianceRate*100)
	fmt.Fprintf(w, "Anchor-Verified: %d\n", rep.AnchoredEvents)
	fmt.Fprintln(w)

	if len(rep.Issues) > 0 {
		fmt.Fprintln(w, "--- Issues ---")
		for _, is := range rep.Issues {
			fmt.Fprintf(w, "  %-24s %-8s %d\n", is.Code, is.Severity, is.Count)
		}
		fmt.Fprintln(w)
	}

	if len(rep.Sites) > 0 {
		fmt.Fprintln(w, "--- Per-Site Breakdown ---")
		for _, sb := range rep.Sites {
			fmt.Fprintf(w, "  %-24s %4d/%-4d (%.1f%%)\n", sb.SiteID, sb.Compliant, sb.Total, sb.Rate*100)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "================================================================================")
	return nil
}
