package sources

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"fabricsync/internal"
	"fabricsync/internal/config"
)

// MailSource delivers the newest message from a supplier mailbox.
type MailSource interface {
	FetchLatest(ctx context.Context, sender, subjectContains string) (*internal.FetchedMailMessage, error)
}

// Loader resolves a SourceSpec to a grid plus the raw document it came from.
type Loader struct {
	cfg     config.Config
	fetcher *Fetcher
	sheets  *SheetsAdapter
	mail    MailSource
}

func NewLoader(cfg config.Config, mail MailSource) *Loader {
	fetcher := NewFetcher(cfg)
	return &Loader{
		cfg:     cfg,
		fetcher: fetcher,
		sheets:  NewSheetsAdapter(cfg, fetcher),
		mail:    mail,
	}
}

func (l *Loader) Load(ctx context.Context, spec internal.SourceSpec) (internal.Grid, internal.Document, error) {
	switch spec.Type {
	case internal.SourceGSheet:
		return l.sheets.Grid(ctx, spec)
	case internal.SourceEmail:
		doc, err := l.fetchMail(ctx, spec)
		if err != nil {
			return nil, internal.Document{}, err
		}
		spec.Type = ""
		grid, err := FromDocument(doc, spec)
		return grid, doc, err
	case internal.SourceFile:
		doc, err := ReadFile(spec.Path)
		if err != nil {
			return nil, internal.Document{}, err
		}
		grid, err := FromDocument(doc, spec)
		return grid, doc, err
	case internal.SourceHTML, internal.SourceWorkbook, internal.SourceText, internal.SourcePDF:
		doc, err := l.fetcher.Fetch(ctx, spec.URL)
		if err != nil {
			return nil, internal.Document{}, err
		}
		grid, err := FromDocument(doc, spec)
		return grid, doc, err
	default:
		return nil, internal.Document{}, fmt.Errorf("unsupported source type %q", spec.Type)
	}
}

func (l *Loader) fetchMail(ctx context.Context, spec internal.SourceSpec) (internal.Document, error) {
	if l.mail == nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: "email " + spec.Sender, Err: fmt.Errorf("no mail connector configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.FetchTimeout())
	defer cancel()

	msg, err := l.mail.FetchLatest(ctx, spec.Sender, spec.SubjectContains)
	if err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: "email " + spec.Sender, Err: err}
	}
	if msg == nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: "email " + spec.Sender, Err: fmt.Errorf("no message found")}
	}
	return EmailDocument(msg.Raw, spec.AttachmentPattern)
}

// ReadFile loads a local document, guessing its content type from the extension.
func ReadFile(path string) (internal.Document, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: path, Err: err}
	}
	return internal.Document{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Body:        body,
	}, nil
}

// FromDocument adapts a raw document to a grid. The declared source type wins when it
// names a concrete format; otherwise the format is detected. A raw email is
// unpacked to its price list attachment first.
func FromDocument(doc internal.Document, spec internal.SourceSpec) (internal.Grid, error) {
	switch DetectFormat(doc, spec.Type) {
	case internal.SourceEmail:
		inner, err := EmailDocument(doc.Body, spec.AttachmentPattern)
		if err != nil {
			return nil, err
		}
		spec.Type = ""
		return FromDocument(inner, spec)
	case internal.SourceHTML:
		return HTMLGrid(doc.Body, spec.TableIndex)
	case internal.SourceWorkbook:
		return WorkbookGrid(doc.Body, spec.Sheet)
	case internal.SourcePDF:
		return PDFGrid(doc.Body)
	default:
		if isCSV(doc) {
			return CSVGrid(doc.Body, spec.Encoding)
		}
		return TextGrid(doc.Body, spec.Encoding), nil
	}
}

// DetectFormat maps a document to email, html, workbook, pdf or text. An
// email hint only applies when the body is a message; a supplier that sends
// its list by mail may still be run on the bare attachment.
func DetectFormat(doc internal.Document, hint internal.SourceType) internal.SourceType {
	switch hint {
	case internal.SourceHTML, internal.SourceWorkbook, internal.SourcePDF, internal.SourceText:
		return hint
	case internal.SourceEmail:
		if looksLikeMessage(doc.Body) {
			return internal.SourceEmail
		}
	}

	switch strings.ToLower(filepath.Ext(doc.Name)) {
	case ".eml":
		return internal.SourceEmail
	case ".xlsx", ".xlsm", ".xls":
		return internal.SourceWorkbook
	case ".html", ".htm":
		return internal.SourceHTML
	case ".pdf":
		return internal.SourcePDF
	case ".csv", ".txt", ".tsv":
		return internal.SourceText
	}

	ct := strings.ToLower(doc.ContentType)
	switch {
	case strings.Contains(ct, "message/rfc822"):
		return internal.SourceEmail
	case strings.Contains(ct, "spreadsheet") || strings.Contains(ct, "ms-excel"):
		return internal.SourceWorkbook
	case strings.Contains(ct, "text/html"):
		return internal.SourceHTML
	case strings.Contains(ct, "pdf"):
		return internal.SourcePDF
	}

	switch {
	case bytes.HasPrefix(doc.Body, []byte("PK\x03\x04")) || IsLegacyXLS(doc.Body):
		return internal.SourceWorkbook
	case bytes.HasPrefix(doc.Body, []byte("%PDF")):
		return internal.SourcePDF
	}
	head := doc.Body
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	if bytes.Contains(bytes.ToLower(head), []byte("<table")) {
		return internal.SourceHTML
	}
	return internal.SourceText
}

// looksLikeMessage reports whether body opens with an RFC 822 header block.
func looksLikeMessage(body []byte) bool {
	head := body
	if len(head) > 16<<10 {
		head = head[:16<<10]
	}
	head = bytes.ReplaceAll(head, []byte("\r\n"), []byte("\n"))
	end := bytes.Index(head, []byte("\n\n"))
	if end < 0 {
		return false
	}
	head = head[:end]
	for _, line := range bytes.Split(head, []byte("\n")) {
		name, _, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		switch strings.ToLower(string(name)) {
		case "from", "mime-version", "received", "message-id":
			return true
		}
	}
	return false
}
