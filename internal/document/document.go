// Package document renders the claim and expenses payment form as a PDF.
// The layout mirrors the paper form used by the programme: a fourteen row
// services table, a declaration, the manager's bank details and an optional
// drawn signature.
package document

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/smartbiopk/cliamapp/internal/claim"
	"github.com/smartbiopk/cliamapp/internal/tariff"
)

const formTitle = "Claim/Expenses Payment Form - Maryam Nawaz Health Clinic"

const (
	declarationBody = "The above-mentioned claims/expenses are calculated as per contract, " +
		"patient data entered in Electronic Medical Record (EMR), program guidelines and " +
		"patients treated under my supervision. This bill is submitted for payment of " +
		"claims/expenses (as per fixed rates under signed contract) to undersigned and " +
		"official record."
	declarationAuthorization = "Undersigned authorize competent authority to withhold/deduct " +
		"amount from total claim, if any discrepancy/duplication found against patient " +
		"visit entered in EMR."
)

// FormData carries the claimant details entered on the claim form. Dates are
// the raw values from the HTML date inputs, in YYYY-MM-DD.
type FormData struct {
	ClinicName   string
	ManagerName  string
	CNIC         string
	AccountTitle string
	IBAN         string
	District     string
	PeriodStart  string
	PeriodEnd    string
	ClaimDate    string
	Signature    string // data URL from the signature pad, optional
}

// serviceLines fixes the printed order of the table: serials 1-8 are single
// services, serial 9 groups the two family planning methods under one
// heading, serial 10 is the fixed allowance appended by the renderer.
var serviceLines = []struct {
	serial   string
	label    string
	category tariff.Category
	indent   bool
}{
	{serial: "1", category: tariff.OPD},
	{serial: "2", category: tariff.ANC},
	{serial: "3", category: tariff.PNC},
	{serial: "4", category: tariff.Delivery},
	{serial: "5", category: tariff.TB},
	{serial: "6", category: tariff.EPI},
	{serial: "7", category: tariff.Nutrition},
	{serial: "8", category: tariff.PostPartumFP},
	{serial: "9", label: "Family Planning Services"},
	{category: tariff.ShortFP, indent: true},
	{category: tariff.LongFP, indent: true},
}

// Renderer produces claim form PDFs priced by a fixed tariff table.
type Renderer struct {
	table tariff.Table
}

// NewRenderer returns a renderer for the given tariff table.
func NewRenderer(table tariff.Table) *Renderer {
	return &Renderer{table: table}
}

// Render lays out the claim form for the given details and priced result.
// Amounts are taken from the result as-is and never recomputed here.
func (r *Renderer) Render(form FormData, result claim.Result) ([]byte, error) {
	pdf := fpdf.New("P", "cm", "A4", "")
	pdf.SetMargins(1, 1, 1)
	pdf.SetAutoPageBreak(true, 0.8)
	pdf.AddPage()

	r.writeTitle(pdf)
	r.writeCertification(pdf, form)
	r.writeTable(pdf, result)
	r.writeDeclaration(pdf)
	r.writeManagerInfo(pdf, form)
	r.writeSignature(pdf, form.Signature)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render claim form: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) writeTitle(pdf *fpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 1, formTitle, "", 1, "C", false, 0, "")
	pdf.Ln(0.5)
}

func (r *Renderer) writeCertification(pdf *fpdf.Fpdf, form FormData) {
	const lineHeight = 0.6

	regular := func(text string) {
		pdf.SetFont("Helvetica", "", 12)
		pdf.Write(lineHeight, text)
	}
	bold := func(text string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Write(lineHeight, text)
	}

	regular("It is certified that the following healthcare services have been provided at Mariam Nawaz Health Clinic ")
	bold(form.ClinicName)
	regular(" under the supervision of the undersigned Health Manager during the period ")
	bold(formatDate(form.PeriodStart))
	regular(" to ")
	bold(formatDate(form.PeriodEnd))
	regular(".")
	pdf.Ln(1)
}

func (r *Renderer) writeTable(pdf *fpdf.Fpdf, result claim.Result) {
	widths := [5]float64{1.3, 8.5, 2.4, 2.8, 3.5}
	aligns := [5]string{"CM", "LM", "CM", "CM", "CM"}

	row := func(height float64, cells [5]string, fill bool) {
		for i, cell := range cells {
			ln := 0
			if i == len(cells)-1 {
				ln = 1
			}
			pdf.CellFormat(widths[i], height, cell, "1", ln, aligns[i], fill, 0, "")
		}
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(46, 125, 50)
	pdf.SetTextColor(245, 245, 245)
	row(0.9, [5]string{"Sr.#", "Services/Visit Type", "Patients", "Unit (PKR)", "Total (PKR)"}, true)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	for _, line := range serviceLines {
		if line.category == "" {
			row(0.75, [5]string{line.serial, line.label, "", "", ""}, false)
			continue
		}
		entry, ok := r.table.Entry(line.category)
		if !ok {
			continue
		}
		item := result.Lines[line.category]
		label := entry.Label
		if line.indent {
			label = "    " + label
		}
		row(0.75, [5]string{
			line.serial,
			label,
			strconv.Itoa(item.Entered),
			formatThousands(entry.Rate),
			formatThousands(item.Amount),
		}, false)
	}

	pdf.SetFont("Helvetica", "B", 11)
	row(0.75, [5]string{"10", "Repair & Maintenance Cost", "-", "-", formatThousands(tariff.FixedCost)}, false)

	pdf.SetFillColor(211, 211, 211)
	row(0.9, [5]string{"", "Total Claims/Expenses", "", "", formatThousands(result.Total)}, true)
}

func (r *Renderer) writeDeclaration(pdf *fpdf.Fpdf) {
	pdf.Ln(0.8)
	pdf.SetFont("Helvetica", "", 12)
	pdf.MultiCell(0, 0.6, declarationBody, "", "J", false)
	pdf.Ln(0.3)
	pdf.MultiCell(0, 0.6, declarationAuthorization, "", "J", false)
	pdf.Ln(0.4)
}

func (r *Renderer) writeManagerInfo(pdf *fpdf.Fpdf, form FormData) {
	const rowHeight = 0.8

	label := func(width float64, text string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(width, rowHeight, text, "", 0, "LM", false, 0, "")
	}
	value := func(width float64, text string, ln int) {
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(width, rowHeight, text, "", ln, "LM", false, 0, "")
	}

	label(4.5, "Health Manager Name:")
	value(7, form.ManagerName, 0)
	label(2.5, "Date:")
	value(5, formatDate(form.ClaimDate), 1)

	label(4.5, "CNIC Number:")
	value(14.5, form.CNIC, 1)

	label(4.5, "Account Title:")
	value(14.5, form.AccountTitle, 1)

	label(4.5, "IBAN Account Number:")
	value(14.5, form.IBAN, 1)

	label(4.5, "District:")
	value(7, form.District, 0)
	label(2.5, "Signature & Stamp:")
	value(5, "", 1)
}

func (r *Renderer) writeSignature(pdf *fpdf.Fpdf, dataURL string) {
	sig, ok := decodeSignature(dataURL)
	if !ok {
		return
	}

	pdf.Ln(0.4)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("signature", opts, bytes.NewReader(sig))
	pdf.ImageOptions("signature", pdf.GetX(), pdf.GetY(), 6, 1.5, true, opts, 0, "")
}

// FileName builds the download name for a rendered claim form.
func FileName(managerName string) string {
	name := strings.TrimSpace(managerName)
	if name == "" {
		name = "User"
	}
	return fmt.Sprintf("MNHC_Claim_%s.pdf", name)
}

// formatDate converts an HTML date input value (YYYY-MM-DD) to DD/MM/YYYY.
// Values that do not parse are passed through unchanged.
func formatDate(value string) string {
	if value == "" {
		return ""
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return value
	}
	return parsed.Format("02/01/2006")
}

// formatThousands renders a non-negative amount with comma separators.
func formatThousands(n int) string {
	digits := strconv.Itoa(n)
	if len(digits) <= 3 {
		return digits
	}

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// decodeSignature extracts the image from a data URL and normalizes it to
// PNG. A missing or undecodable signature is skipped rather than failing the
// whole document.
func decodeSignature(dataURL string) ([]byte, bool) {
	_, encoded, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
