package evaluator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joelkehle/kyc-agency/internal/document"
	"github.com/joelkehle/kyc-agency/internal/extract"
)

const (
	maxDocumentBytes = 20 * 1024 * 1024
	maxTextRun       = 24000
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Content is a document read from disk, either as text or as an image.
type Content struct {
	Text      string
	MediaType string
	Image     []byte
	Method    string
	Truncated bool
}

// ReadDocument loads the file at path. Images are returned as bytes, PDFs are
// converted to text with pdftotext when available and otherwise by scanning
// for printable runs, and anything else is read as text.
func ReadDocument(ctx context.Context, path string) (Content, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Content{}, eris.Wrapf(err, "stat %s", path)
	}
	if info.Size() > maxDocumentBytes {
		return Content{}, eris.Errorf("document too large: %d bytes", info.Size())
	}
	ext := strings.ToLower(filepath.Ext(path))
	if mediaType, ok := imageTypes[ext]; ok {
		blob, err := os.ReadFile(path)
		if err != nil {
			return Content{}, eris.Wrapf(err, "read %s", path)
		}
		return Content{MediaType: mediaType, Image: blob, Method: "image"}, nil
	}
	if ext == ".pdf" {
		if text, err := runPdfToText(ctx, path); err == nil && strings.TrimSpace(text) != "" {
			return truncateText(text, "pdftotext"), nil
		}
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return Content{}, eris.Wrapf(err, "read %s", path)
	}
	if ext != ".pdf" {
		return truncateText(string(blob), "text"), nil
	}
	fallback := extractPrintableText(blob)
	if strings.TrimSpace(fallback) == "" {
		return Content{}, eris.New("no extractable text found")
	}
	return truncateText(fallback, "byte-fallback"), nil
}

func runPdfToText(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", path, "-").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractPrintableText(blob []byte) string {
	var runs []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if len(s) >= 24 {
			runs = append(runs, s)
		}
		b.Reset()
	}
	for _, c := range blob {
		r := rune(c)
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(strings.Join(runs, "\n"))
}

func truncateText(text, method string) Content {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= maxTextRun {
		return Content{Text: trimmed, Method: method}
	}
	cut := maxTextRun
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return Content{Text: trimmed[:cut] + "\n\n[TRUNCATED]", Method: method, Truncated: true}
}

var kindInstructions = map[document.Kind]string{
	document.IDProof:         "This is an identity document (passport, national ID card or driver's license).",
	document.AddressProof:    "This is a proof of address (utility bill, bank statement or lease).",
	document.EmploymentProof: "This is a proof of employment (employment letter, payslip or contract).",
}

// ExtractionPrompt renders the field extraction instruction for kind.
func ExtractionPrompt(kind document.Kind) string {
	var b strings.Builder
	b.WriteString("Extract the key information from this document. ")
	if instr, ok := kindInstructions[kind]; ok {
		b.WriteString(instr)
		b.WriteString("\nReturn a JSON object with exactly these fields: ")
		b.WriteString(strings.Join(kind.Fields(), ", "))
		b.WriteString(". Use an empty string for any field you cannot read. Write dates as YYYY-MM-DD.")
	} else {
		b.WriteString("Return a JSON object with any relevant fields you can read.")
	}
	b.WriteString("\nReturn only the JSON object.")
	return b.String()
}

// DocumentExtractor reads uploaded documents and extracts their fields.
type DocumentExtractor struct {
	llm LLM
}

func NewDocumentExtractor(llm LLM) *DocumentExtractor {
	return &DocumentExtractor{llm: llm}
}

// Extract reads the document at path and returns its fields.
func (d *DocumentExtractor) Extract(ctx context.Context, kind document.Kind, path string) (document.Record, error) {
	if d == nil || d.llm == nil {
		return nil, eris.Wrap(ErrNotConfigured, "document extraction")
	}
	content, err := ReadDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	prompt := ExtractionPrompt(kind)
	var raw string
	if content.Image != nil {
		vision, ok := d.llm.(VisionLLM)
		if !ok {
			return nil, eris.Errorf("image documents need a vision model: %s", path)
		}
		raw, err = vision.GenerateFromImage(ctx, prompt, content.MediaType, content.Image)
	} else {
		raw, err = d.llm.GenerateJSON(ctx, prompt+"\n\nDOCUMENT TEXT:\n"+content.Text)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "extract %s", kind)
	}
	rec, err := extract.Fields(raw, kind)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("evaluator: document extracted",
		zap.String("kind", string(kind)),
		zap.String("method", content.Method),
		zap.Int("fields", len(rec)),
	)
	return rec, nil
}
