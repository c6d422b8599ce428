// Package testutil builds small, valid PDF documents for tests.
package testutil

import (
	"bytes"
	"fmt"
	"sort"
)

// PageSize is the MediaBox width and height of generated pages, in points.
const (
	PageWidth  = 200
	PageHeight = 100
)

// MinimalPDF returns a syntactically valid PDF with the given number of
// pages. Each page shows the text "Page N" in Helvetica.
func MinimalPDF(pages int) []byte {
	return buildPDF(pages, nil)
}

// MinimalPDFWithInfo is MinimalPDF with a document info dictionary built
// from info, e.g. {"Title": "Report", "CreationDate": "D:20240102030405Z"}.
func MinimalPDFWithInfo(pages int, info map[string]string) []byte {
	return buildPDF(pages, info)
}

func buildPDF(pages int, info map[string]string) []byte {
	if pages < 1 {
		pages = 1
	}

	var buf bytes.Buffer
	// Object numbers: 1 catalog, 2 page tree, 3 font, then a page and its
	// content stream per page.
	totalObjects := 3 + 2*pages
	infoNum := 0
	if len(info) > 0 {
		totalObjects++
		infoNum = totalObjects
	}
	offsets := make([]int, totalObjects+1)

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := make([]byte, 0, pages*8)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R ", 4+2*i)...)
	}

	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids), pages))
	writeObj(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i := 0; i < pages; i++ {
		pageNum := 4 + 2*i
		contentNum := pageNum + 1
		writeObj(pageNum, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>",
			PageWidth, PageHeight, contentNum))

		stream := fmt.Sprintf("BT /F1 12 Tf 20 50 Td (Page %d) Tj ET", i+1)
		writeObj(contentNum, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	if infoNum > 0 {
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var dict bytes.Buffer
		dict.WriteString("<<")
		for _, k := range keys {
			fmt.Fprintf(&dict, " /%s (%s)", k, info[k])
		}
		dict.WriteString(" >>")
		writeObj(infoNum, dict.String())
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", totalObjects+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= totalObjects; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	trailerInfo := ""
	if infoNum > 0 {
		trailerInfo = fmt.Sprintf(" /Info %d 0 R", infoNum)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R%s >>\nstartxref\n%d\n%%%%EOF\n", totalObjects+1, trailerInfo, xrefOffset)

	return buf.Bytes()
}
