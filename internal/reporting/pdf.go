package reporting

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// Color scheme - professional dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorAccent      = [3]int{46, 204, 113}  // Green
	colorWarning     = [3]int{241, 196, 15}  // Yellow
	colorDanger      = [3]int{231, 76, 60}   // Red
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorBackground  = [3]int{248, 249, 250} // Light gray bg
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorGridLine    = [3]int{220, 220, 220} // Borders
)

// PDFGenerator renders ReportData as an A4 PDF.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate renders the full report.
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)

	g.writeCoverPage(pdf, data)

	pdf.AddPage()
	g.writeScoreSection(pdf, data)
	g.writeShareOfVoiceSection(pdf, data)

	if len(data.Trends) > 0 {
		if pdf.GetY() > 200 {
			pdf.AddPage()
		}
		g.writeTrendsSection(pdf, data)
	}

	if len(data.Alerts) > 0 {
		if pdf.GetY() > 200 {
			pdf.AddPage()
		}
		g.writeAlertsSection(pdf, data)
	}

	g.addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) writeCoverPage(pdf *fpdf.Fpdf, data *ReportData) {
	pdf.AddPage()
	pageWidth, pageHeight := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(50)
	pdf.SetFont("Arial", "B", 32)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 15, "CITEWATCH", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 8, "AI Citation Monitoring", "", 1, "C", false, 0, "")

	pdf.SetY(100)
	pdf.SetFont("Arial", "B", 28)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 12, "Visibility Report", "", 1, "C", false, 0, "")

	// Project info box
	pdf.SetY(130)
	boxX := 40.0
	boxWidth := pageWidth - 80
	pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.RoundedRect(boxX, pdf.GetY(), boxWidth, 50, 3, "1234", "FD")

	pdf.SetY(pdf.GetY() + 10)
	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, "PROJECT", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, data.Project.Name, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, data.Project.PrimaryDomain, "", 1, "C", false, 0, "")

	pdf.SetY(pageHeight - 50)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("January 2, 2006 at 15:04 MST")), "", 1, "C", false, 0, "")

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func (g *PDFGenerator) writeScoreSection(pdf *fpdf.Fpdf, data *ReportData) {
	pageWidth, _ := pdf.GetPageSize()
	g.sectionTitle(pdf, "Visibility Score")

	if data.Score == nil {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "Not yet calculated - run tracking first.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}
	score := data.Score

	// Grade card
	cardWidth := pageWidth - 40
	gradeColor := gradeColorFor(score.Grade)
	pdf.SetFillColor(gradeColor[0], gradeColor[1], gradeColor[2])
	pdf.RoundedRect(20, pdf.GetY(), cardWidth, 30, 3, "1234", "F")

	pdf.SetXY(20, pdf.GetY()+6)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(cardWidth, 11, fmt.Sprintf("%.1f  /  100   (%s)", score.OverallScore, score.Grade), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	deltas := "no prior scores to compare"
	if score.Change7d != nil || score.Change30d != nil {
		deltas = fmt.Sprintf("7d: %s    30d: %s", formatDelta(score.Change7d), formatDelta(score.Change30d))
	}
	pdf.CellFormat(cardWidth, 7, deltas, "", 1, "C", false, 0, "")
	pdf.SetY(pdf.GetY() + 12)

	// Component breakdown table
	rows := []struct {
		label  string
		weight string
		value  float64
	}{
		{"Citation Frequency", "40%", score.FrequencyScore},
		{"Average Position", "30%", score.PositionScore},
		{"Platform Diversity", "15%", score.DiversityScore},
		{"Sentiment Context", "10%", score.ContextScore},
		{"Momentum", "5%", score.MomentumScore},
	}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(90, 7, "Component", "", 0, "L", true, 0, "")
	pdf.CellFormat(30, 7, "Weight", "", 0, "C", true, 0, "")
	pdf.CellFormat(50, 7, "Score", "", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, row := range rows {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.CellFormat(90, 7, row.label, "", 0, "L", fill, 0, "")
		pdf.CellFormat(30, 7, row.weight, "", 0, "C", fill, 0, "")
		pdf.CellFormat(50, 7, fmt.Sprintf("%.1f", row.value), "", 1, "C", fill, 0, "")
	}
	pdf.Ln(8)
}

func (g *PDFGenerator) writeShareOfVoiceSection(pdf *fpdf.Fpdf, data *ReportData) {
	g.sectionTitle(pdf, "Share of Voice (30 days)")

	sov := data.ShareOfVoice
	if sov == nil || sov.TotalMentions == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "No mentions recorded in the window.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(90, 7, "Domain", "", 0, "L", true, 0, "")
	pdf.CellFormat(40, 7, "Mentions", "", 0, "C", true, 0, "")
	pdf.CellFormat(40, 7, "Share", "", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for i, share := range sov.Shares {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		label := share.Domain
		if share.IsSelf {
			label += "  (you)"
			pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
			pdf.SetFont("Arial", "B", 9)
		} else {
			pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
			pdf.SetFont("Arial", "", 9)
		}
		pdf.CellFormat(90, 7, label, "", 0, "L", fill, 0, "")
		pdf.CellFormat(40, 7, fmt.Sprintf("%d", share.Mentions), "", 0, "C", fill, 0, "")
		pdf.CellFormat(40, 7, fmt.Sprintf("%.1f%%", share.Share), "", 1, "C", fill, 0, "")
	}

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Total mentions in window: %d", sov.TotalMentions), "", 1, "L", false, 0, "")
	pdf.Ln(6)
}

func (g *PDFGenerator) writeTrendsSection(pdf *fpdf.Fpdf, data *ReportData) {
	g.sectionTitle(pdf, "Trending Keywords (week over week)")

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(80, 7, "Keyword", "", 0, "L", true, 0, "")
	pdf.CellFormat(30, 7, "This Week", "", 0, "C", true, 0, "")
	pdf.CellFormat(30, 7, "Last Week", "", 0, "C", true, 0, "")
	pdf.CellFormat(30, 7, "Trend", "", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for i, trend := range data.Trends {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(80, 7, truncate(trend.KeywordText, 45), "", 0, "L", fill, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", trend.ThisWeekCitations), "", 0, "C", fill, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", trend.LastWeekCitations), "", 0, "C", fill, 0, "")

		trendColor := trendColorFor(trend.Direction)
		pdf.SetTextColor(trendColor[0], trendColor[1], trendColor[2])
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(30, 7, trend.Direction, "", 1, "C", fill, 0, "")
		pdf.SetFont("Arial", "", 9)
	}
	pdf.Ln(8)
}

func (g *PDFGenerator) writeAlertsSection(pdf *fpdf.Fpdf, data *ReportData) {
	g.sectionTitle(pdf, "Recent Alerts")

	pdf.SetFont("Arial", "", 9)
	for _, alert := range data.Alerts {
		sevColor := severityColorFor(string(alert.Severity))
		bulletX := pdf.GetX() + 3
		bulletY := pdf.GetY() + 3.5
		pdf.SetFillColor(sevColor[0], sevColor[1], sevColor[2])
		pdf.Circle(bulletX, bulletY, 1.8, "F")

		pdf.SetX(pdf.GetX() + 8)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(110, 7, truncate(alert.Title, 70), "", 0, "L", false, 0, "")

		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 7, alert.CreatedAt.Format("Jan 2 15:04"), "", 1, "R", false, 0, "")
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(4)
}

func (g *PDFGenerator) addPageNumbers(pdf *fpdf.Fpdf) {
	total := pdf.PageCount()
	for i := 2; i <= total; i++ {
		pdf.SetPage(i)
		pdf.SetY(-18)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d of %d", i, total), "", 0, "C", false, 0, "")
	}
}

func gradeColorFor(grade string) [3]int {
	switch grade {
	case "A+", "A", "B":
		return colorAccent
	case "C", "D":
		return colorWarning
	default:
		return colorDanger
	}
}

func trendColorFor(direction string) [3]int {
	switch direction {
	case "up":
		return colorAccent
	case "down":
		return colorDanger
	default:
		return colorTextMuted
	}
}

func severityColorFor(severity string) [3]int {
	switch severity {
	case "critical":
		return colorDanger
	case "warning":
		return colorWarning
	default:
		return colorAccent
	}
}

func formatDelta(delta *float64) string {
	if delta == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f", *delta)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
