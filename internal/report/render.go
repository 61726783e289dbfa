package report

import (
	"context"
	_ "embed"
	"encoding/base64"
	"html"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed style.css
var styleCSS string

var (
	reAuditHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Audit Trail\s*</h2>`)
	reErrorCell    = regexp.MustCompile(`<td>error</td>`)
)

// HTML renders d as a standalone page.
func (d Document) HTML() (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(d.Markdown), &content); err != nil {
		return "", eris.Wrap(err, "markdown convert")
	}
	contentHTML := applyPrintLayoutHooks(content.String())

	var meta strings.Builder
	for _, m := range d.Meta {
		meta.WriteString("<div><strong>" + html.EscapeString(m.Label) + ":</strong> " + html.EscapeString(m.Value) + "</div>")
	}
	var badges strings.Builder
	for i, b := range d.Badges {
		class := "report-badge"
		if i == 0 {
			class += " status-" + statusClass(string(d.Status))
		}
		badges.WriteString("<span class='" + class + "'>" + html.EscapeString(b) + "</span>")
	}

	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(d.Title) + "</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<section class='report-viewer'><div class='report-header'>" +
		"<div class='report-meta'>" + meta.String() + "</div>" +
		"<div class='report-badges'>" + badges.String() + "</div>" +
		"</div><div class='report-html'>" + contentHTML + "</div></section>" +
		"</body></html>", nil
}

func statusClass(status string) string {
	switch status {
	case "approved", "rejected":
		return status
	}
	return "pending"
}

func applyPrintLayoutHooks(contentHTML string) string {
	out := reAuditHeading.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Audit Trail</h2>`)
	return reErrorCell.ReplaceAllString(out, `<td class="step-error">error</td>`)
}

// PDFRenderer prints reports through a headless Chromium.
type PDFRenderer struct {
	chromePath string
	timeout    time.Duration
}

func NewPDFRenderer(chromePath string, timeout time.Duration) *PDFRenderer {
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PDFRenderer{chromePath: chromePath, timeout: timeout}
}

func (r *PDFRenderer) Render(ctx context.Context, d Document) ([]byte, error) {
	htmlDoc, err := d.HTML()
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.45).
				WithMarginRight(0.45).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, eris.Wrap(err, "print pdf")
	}
	return pdf, nil
}

func detectChromePath() string {
	for _, p := range []string{"/usr/bin/chromium-browser", "/usr/bin/chromium", "/usr/bin/google-chrome"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
