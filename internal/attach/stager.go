package attach

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"parley/internal/models"
)

var (
	ErrTooManyFiles = errors.New("too many staged files")
)

// FileInput is a candidate file handed to the stager by the
// presentation layer.
type FileInput struct {
	Name string
	Data []byte
}

// StagedFile is a locally held file awaiting send. It carries no server
// identity; it becomes a persisted attachment only once the REST API
// returns resolved references.
type StagedFile struct {
	ID      string
	Name    string
	Kind    string // models.FileTypeImage or models.FileTypeDocument
	Size    int64
	Data    []byte
	Preview *Preview
}

// Stager validates and accumulates files before send.
type Stager struct {
	max            int
	previewMaxEdge int
	previewQuality int
	files          []StagedFile
}

func NewStager(maxFiles, previewMaxEdge, previewQuality int) *Stager {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Stager{
		max:            maxFiles,
		previewMaxEdge: previewMaxEdge,
		previewQuality: previewQuality,
	}
}

// Add filters the input down to image and document kinds, silently
// discarding the rest, and appends the valid files to the staged set.
// If the combined count would exceed the maximum the entire add is
// rejected and nothing is staged.
func (s *Stager) Add(files ...FileInput) error {
	valid := make([]StagedFile, 0, len(files))
	for _, f := range files {
		kind, ok := classify(f.Data)
		if !ok {
			continue
		}
		staged := StagedFile{
			ID:   uuid.NewString(),
			Name: f.Name,
			Kind: kind,
			Size: int64(len(f.Data)),
			Data: f.Data,
		}
		if kind == models.FileTypeImage {
			// Preview failure is not a staging failure; a broken or
			// exotic image still uploads fine without a thumbnail.
			if p, err := generatePreview(f.Data, s.previewMaxEdge, s.previewQuality); err == nil {
				staged.Preview = p
			}
		}
		valid = append(valid, staged)
	}

	if len(s.files)+len(valid) > s.max {
		for i := range valid {
			valid[i].release()
		}
		return ErrTooManyFiles
	}

	s.files = append(s.files, valid...)
	return nil
}

// Remove drops exactly one staged file by position, releasing its
// preview. Out-of-range indices are a no-op.
func (s *Stager) Remove(index int) {
	if index < 0 || index >= len(s.files) {
		return
	}
	s.files[index].release()
	s.files = append(s.files[:index], s.files[index+1:]...)
}

// Clear releases every staged preview and empties the set. Called on
// successful send and on room switch.
func (s *Stager) Clear() {
	for i := range s.files {
		s.files[i].release()
	}
	s.files = nil
}

// Files returns the staged set in staging order. The slice is a copy;
// mutating it does not affect the stager.
func (s *Stager) Files() []StagedFile {
	out := make([]StagedFile, len(s.files))
	copy(out, s.files)
	return out
}

func (s *Stager) Len() int {
	return len(s.files)
}

func (s *Stager) MaxFiles() int {
	return s.max
}

func (f *StagedFile) release() {
	if f.Preview != nil {
		f.Preview.Release()
	}
}

// classify sniffs the file content and maps it onto the two accepted
// media kinds. Anything else is rejected.
func classify(data []byte) (string, bool) {
	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	mimeType := trimMimeParams(http.DetectContentType(sniff))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.FileTypeImage, true
	case mimeType == "application/pdf":
		return models.FileTypeDocument, true
	default:
		return "", false
	}
}

func trimMimeParams(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}
