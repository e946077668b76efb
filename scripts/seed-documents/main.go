// seed-documents uploads sample loan documents to a running API server and
// follows them until processing settles.
//
// The server accepts each upload, enqueues an extraction task and processes
// it in the background; this script polls document status and prints the
// extracted borrowers per document. Re-running is idempotent: duplicate
// content is reported by the server and the existing document is followed
// instead.
//
// Usage:
//
//	export API_URL=http://localhost:8080
//	export API_TOKEN=secret        # only if the server has API_TOKEN set
//	go run ./scripts/seed-documents/
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// sampleDoc is one synthetic loan document to seed. Lines become the text
// content of a single-page PDF.
type sampleDoc struct {
	filename string
	method   string
	ocrMode  string
	lines    []string
}

var samples = []sampleDoc{
	{
		filename: "single-application.pdf",
		method:   "docling",
		ocrMode:  "auto",
		lines: []string{
			"UNIFORM RESIDENTIAL LOAN APPLICATION",
			"Lender Case Number: ML-2024-00318",
			"",
			"Name: Jane A. Marsh",
			"Social Security Number: 543-21-6789",
			"Home Phone: (415) 555-0132",
			"Email: jane.marsh@example.com",
			"Address: 218 Cole Valley Rd, San Francisco, CA 94117",
			"",
			"Employer: Meridian Health Group",
			"Gross Annual Income (2023): $98,400",
			"Checking Account: CHK-4401187",
		},
	},
	{
		filename: "joint-application.pdf",
		method:   "auto",
		ocrMode:  "auto",
		lines: []string{
			"UNIFORM RESIDENTIAL LOAN APPLICATION",
			"Loan Number: LN-88401",
			"",
			"Borrower: Daniel R. Okafor",
			"Social Security Number: 321-54-9876",
			"Cell Phone: (512) 555-0177",
			"Address: 9 Birch Ct, Austin, TX 78704",
			"Employer: Halloran Freight Lines",
			"Gross Annual Income (2023): $112,000",
			"",
			"Co-Borrower: Priya Okafor",
			"Social Security Number: 410-88-2134",
			"Email: priya.okafor@example.com",
			"Employer: Austin Community College",
			"Gross Annual Income (2023): $91,000",
		},
	},
	{
		filename: "w2-2023.pdf",
		method:   "docling",
		ocrMode:  "skip",
		lines: []string{
			"Form W-2 Wage and Tax Statement 2023",
			"",
			"Employee's social security number: 987-65-4320",
			"Employer: Crestline Logistics, 4200 Needmore Rd, Dayton, OH 45424",
			"Employee: Marcus T. Bell",
			"Address: 310 Fernwood Ave, Dayton, OH 45404",
			"",
			"Wages, tips, other compensation: $79,800.00",
			"Federal income tax withheld: $9,301.77",
		},
	},
}

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	token := os.Getenv("API_TOKEN")

	client := &http.Client{Timeout: 30 * time.Second}

	log.Printf("Seeding %d documents against %s", len(samples), apiURL)

	var ids []string
	for _, s := range samples {
		id, status, err := upload(client, apiURL, token, s)
		if err != nil {
			log.Printf("[%s] upload failed: %v", s.filename, err)
			continue
		}
		log.Printf("[%s] accepted: id=%s status=%s", s.filename, id, status)
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		log.Fatal("No documents accepted; is the server running?")
	}

	log.Println("Waiting for processing to settle...")
	for _, id := range ids {
		status, errMsg := waitSettled(client, apiURL, token, id, 2*time.Minute)
		switch status {
		case "COMPLETED":
			names := borrowerNames(client, apiURL, token, id)
			fmt.Printf("[%s] COMPLETED: %d borrowers (%s)\n", id, len(names), strings.Join(names, ", "))
		case "FAILED":
			fmt.Printf("[%s] FAILED: %s\n", id, errMsg)
		default:
			fmt.Printf("[%s] still %s after timeout\n", id, status)
		}
	}

	fmt.Println("\nSeed complete.")
}

// upload posts one sample as a multipart form. A 409 means the content was
// seeded on a previous run; the existing document is returned.
func upload(client *http.Client, apiURL, token string, s sampleDoc) (id, status string, err error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", s.filename)
	if err != nil {
		return "", "", err
	}
	if _, err := part.Write(buildPDF(s.lines)); err != nil {
		return "", "", err
	}
	if err := mw.WriteField("method", s.method); err != nil {
		return "", "", err
	}
	if err := mw.WriteField("ocr_mode", s.ocrMode); err != nil {
		return "", "", err
	}
	if err := mw.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequest(http.MethodPost, apiURL+"/v1/documents", &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
		var doc struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", "", fmt.Errorf("decode response: %w", err)
		}
		return doc.ID, doc.Status, nil
	case http.StatusConflict:
		var dup struct {
			DocumentID string `json:"document_id"`
			Status     string `json:"status"`
		}
		if err := json.Unmarshal(data, &dup); err != nil {
			return "", "", fmt.Errorf("decode conflict: %w", err)
		}
		log.Printf("[%s] already seeded as %s", s.filename, dup.DocumentID)
		return dup.DocumentID, dup.Status, nil
	default:
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
}

// waitSettled polls the document until its status is terminal or the
// timeout elapses.
func waitSettled(client *http.Client, apiURL, token, id string, timeout time.Duration) (status, errMsg string) {
	deadline := time.Now().Add(timeout)
	for {
		var doc struct {
			Status       string  `json:"status"`
			ErrorMessage *string `json:"error_message"`
		}
		if err := getJSON(client, apiURL+"/v1/documents/"+id, token, &doc); err != nil {
			log.Printf("[%s] poll failed: %v", id, err)
		} else {
			if doc.ErrorMessage != nil {
				errMsg = *doc.ErrorMessage
			}
			if doc.Status == "COMPLETED" || doc.Status == "FAILED" {
				return doc.Status, errMsg
			}
			status = doc.Status
		}
		if time.Now().After(deadline) {
			return status, errMsg
		}
		time.Sleep(2 * time.Second)
	}
}

// borrowerNames fetches the extracted borrowers for a document.
func borrowerNames(client *http.Client, apiURL, token, id string) []string {
	var out struct {
		Borrowers []struct {
			Name string `json:"name"`
		} `json:"borrowers"`
	}
	if err := getJSON(client, apiURL+"/v1/documents/"+id+"/borrowers", token, &out); err != nil {
		log.Printf("[%s] borrower fetch failed: %v", id, err)
		return nil
	}
	names := make([]string, 0, len(out.Borrowers))
	for _, b := range out.Borrowers {
		names = append(names, b.Name)
	}
	return names
}

func getJSON(client *http.Client, url, token string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, v)
}

// buildPDF assembles a minimal single-page PDF whose content stream draws
// the given lines, with a correct xref table so strict parsers accept it.
func buildPDF(lines []string) []byte {
	var stream strings.Builder
	stream.WriteString("BT /F1 11 Tf 72 720 Td 14 TL\n")
	for _, line := range lines {
		esc := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(line)
		fmt.Fprintf(&stream, "(%s) Tj T*\n", esc)
	}
	stream.WriteString("ET\n")

	objects := []string{
		"1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n",
		"2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n",
		"3 0 obj<</Type/Page/MediaBox[0 0 612 792]/Parent 2 0 R/Contents 4 0 R/Resources<</Font<</F1 5 0 R>>>>>>endobj\n",
		fmt.Sprintf("4 0 obj<</Length %d>>stream\n%sendstream endobj\n", stream.Len(), stream.String()),
		"5 0 obj<</Type/Font/Subtype/Type1/BaseFont/Helvetica>>endobj\n",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objects))
	for _, obj := range objects {
		offsets = append(offsets, buf.Len())
		buf.WriteString(obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer<</Size %d/Root 1 0 R>>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
