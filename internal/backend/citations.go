package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Annotation marks a span of assistant text that cites a source
type Annotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	StartIndex   int           `json:"start_index"`
	EndIndex     int           `json:"end_index"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
}

// FileCitation identifies the file a citation refers to
type FileCitation struct {
	FileID string `json:"file_id"`
}

// FileResolver maps a provider file id to a display name
type FileResolver interface {
	ResolveFileName(ctx context.Context, fileID string) (string, error)
}

// ApplyCitations rewrites each file citation marker to [index](filename) and
// appends one "[index] filename" footnote per citation. Names that cannot be
// resolved fall back to the file id.
func ApplyCitations(ctx context.Context, text string, annotations []Annotation, files FileResolver) string {
	names := make(map[string]string)
	var footnotes strings.Builder

	for index, annotation := range annotations {
		if annotation.FileCitation == nil {
			continue
		}
		fileID := annotation.FileCitation.FileID

		name, ok := names[fileID]
		if !ok {
			name = fileID
			if files != nil {
				if resolved, err := files.ResolveFileName(ctx, fileID); err == nil && resolved != "" {
					name = resolved
				}
			}
			names[fileID] = name
		}

		if annotation.Text != "" {
			text = strings.ReplaceAll(text, annotation.Text, fmt.Sprintf("[%d](%s)", index, name))
		}
		fmt.Fprintf(&footnotes, "\n[%d] %s", index, name)
	}

	return text + footnotes.String()
}

// FileObject represents the metadata returned for an uploaded file
type FileObject struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// ResolveFileName looks up the filename of an uploaded file
func (c *OpenAIClient) ResolveFileName(ctx context.Context, fileID string) (string, error) {
	var file FileObject
	if err := c.doJSON(ctx, "retrieve file", http.MethodGet, "/files/"+url.PathEscape(fileID), nil, &file); err != nil {
		return "", err
	}
	return file.Filename, nil
}
