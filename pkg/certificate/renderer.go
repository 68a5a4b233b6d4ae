package certificate

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Data is what gets printed on a completion certificate.
type Data struct {
	SerialNumber string
	Recipient    string
	CourseTitle  string
	Issuer       string
	CompletedAt  time.Time
}

// Renderer draws landscape A4 completion certificates.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(data Data) ([]byte, error) {
	if strings.TrimSpace(data.CourseTitle) == "" || strings.TrimSpace(data.Recipient) == "" {
		return nil, fmt.Errorf("certificate requires recipient and course title")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Certificate of Completion", true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, 277, 190, "D")
	pdf.SetLineWidth(0.3)
	pdf.Rect(14, 14, 269, 182, "D")

	pdf.Ln(20)
	pdf.SetFont("Arial", "B", 28)
	pdf.CellFormat(0, 14, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")

	pdf.Ln(8)
	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 24)
	pdf.CellFormat(0, 12, data.Recipient, "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "has successfully completed the course", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, data.CourseTitle, "", "C", false)

	pdf.Ln(10)
	pdf.SetFont("Arial", "", 11)
	completed := data.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	pdf.CellFormat(0, 6, "Completed on "+completed.UTC().Format("2 January 2006"), "", 1, "C", false, 0, "")
	if data.Issuer != "" {
		pdf.CellFormat(0, 6, "Issued by "+data.Issuer, "", 1, "C", false, 0, "")
	}
	if data.SerialNumber != "" {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, "Certificate No. "+data.SerialNumber, "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
