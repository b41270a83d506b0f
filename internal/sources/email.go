package sources

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"

	"fabricsync/internal"
)

var tabularExt = map[string]struct{}{
	".xlsx": {}, ".xls": {}, ".csv": {}, ".txt": {}, ".html": {}, ".htm": {}, ".pdf": {},
}

// EmailDocument picks the supplier's price list out of a raw RFC 822 message:
// the first attachment whose file name matches pattern, or, without a
// pattern, the first tabular attachment and then an HTML body with a table.
func EmailDocument(raw []byte, pattern string) (internal.Document, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return internal.Document{}, &internal.SourceUnavailableError{Source: "email", Err: fmt.Errorf("read message: %w", err)}
	}

	var re *regexp.Regexp
	if strings.TrimSpace(pattern) != "" {
		re, err = regexp.Compile(pattern)
		if err != nil {
			return internal.Document{}, fmt.Errorf("attachment_pattern: %w", err)
		}
	}

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	names := make([]string, 0, len(parts))
	for _, att := range parts {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		names = append(names, filename)

		if re != nil {
			if !re.MatchString(filename) {
				continue
			}
		} else if _, ok := tabularExt[strings.ToLower(filepath.Ext(filename))]; !ok {
			continue
		}
		return internal.Document{Name: filename, ContentType: att.ContentType, Body: att.Content}, nil
	}

	if re == nil && strings.Contains(strings.ToLower(env.HTML), "<table") {
		return internal.Document{Name: "body.html", ContentType: "text/html", Body: []byte(env.HTML)}, nil
	}

	reason := "no matching attachment"
	if re != nil {
		reason = fmt.Sprintf("no attachment matches %q", pattern)
	}
	return internal.Document{}, &internal.SourceFormatError{
		Source: "email " + env.GetHeader("Subject"),
		Reason: reason,
		Found:  names,
	}
}
