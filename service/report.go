package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/clausecheck/backend/model"
	"github.com/go-pdf/fpdf"
)

// BuildReport renders an analyzed contract as a PDF with a fixed section
// order: title/metadata, executive summary, risk assessment, per-clause
// detail, then the full extracted text on a new page.
func BuildReport(w io.Writer, c *model.Contract) error {
	if c.Analysis == nil {
		return fmt.Errorf("contract %s has no analysis to report", c.ID)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	// Title and metadata
	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 9, stripNonASCII("Contract Analysis Report"), "", "L", false)
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("File: %s", c.FileName)), "", "L", false)
	pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("Analyzed: %s", c.UploadDate.Format("2006-01-02 15:04"))), "", "L", false)
	pdf.Ln(4)

	// Executive summary
	sectionHeader(pdf, "Executive Summary")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 5.5, stripNonASCII(c.Analysis.Summary), "", "L", false)
	pdf.Ln(4)

	// Risk assessment
	sectionHeader(pdf, "Risk Assessment")
	setRiskColor(pdf, c.Analysis.OverallRisk)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.MultiCell(0, 5.5, stripNonASCII(fmt.Sprintf("Overall Risk: %s (score %d/100)", c.Analysis.OverallRisk, c.Analysis.RiskScore)), "", "L", false)
	pdf.SetTextColor(0, 0, 0)

	// The backend assigns OverallRisk on its own; show where the raw score
	// lands so a disagreement is visible in the report.
	band := model.RiskLevelForScore(c.Analysis.RiskScore).Profile()
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("Score band: %s (%d-%d)",
		model.RiskLevelForScore(c.Analysis.RiskScore), band.MinScore, band.MaxScore)), "", "L", false)

	if c.Analysis.IsLikelyNonContract() {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, "Note: this document does not appear to contain contract language.", "", "L", false)
	}
	pdf.Ln(4)

	// Per-clause detail
	sectionHeader(pdf, "Clause Analysis")
	if len(c.Analysis.Clauses) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.MultiCell(0, 5.5, "No risky clauses were identified.", "", "L", false)
	}
	for i, clause := range c.Analysis.Clauses {
		setRiskColor(pdf, clause.RiskLevel)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 5.5, stripNonASCII(fmt.Sprintf("%d. %s risk - %s", i+1, clause.RiskLevel, clause.Explanation)), "", "L", false)
		pdf.SetTextColor(0, 0, 0)

		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("\"%s\"", clause.Text)), "", "L", false)

		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("Why: %s", clause.Reason)), "", "L", false)

		if len(clause.ConversationHistory) > 0 {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.MultiCell(0, 5, "Questions & Answers", "", "L", false)
			pdf.SetFont("Helvetica", "", 10)
			for _, qa := range clause.ConversationHistory {
				pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("Q: %s", qa.Question)), "", "L", false)
				pdf.MultiCell(0, 5, stripNonASCII(fmt.Sprintf("A: %s", qa.Answer)), "", "L", false)
			}
		}
		pdf.Ln(3)
	}

	// Full text on its own page
	if c.Analysis.FullText != "" {
		pdf.AddPage()
		sectionHeader(pdf, "Full Extracted Text")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 4.5, stripNonASCII(c.Analysis.FullText), "", "L", false)
	}

	return pdf.Output(w)
}

// setRiskColor switches the text color to the level's display color.
func setRiskColor(pdf *fpdf.Fpdf, level model.RiskLevel) {
	r, g, b := riskRGB(level)
	pdf.SetTextColor(r, g, b)
}

// riskRGB decodes a risk level's hex display color into PDF color components.
func riskRGB(level model.RiskLevel) (r, g, b int) {
	fmt.Sscanf(level.Profile().Color, "#%02x%02x%02x", &r, &g, &b)
	return r, g, b
}

func sectionHeader(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.MultiCell(0, 7, title, "", "L", false)
	pdf.Ln(1)
}

// stripNonASCII drops characters the core PDF fonts cannot encode.
func stripNonASCII(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
