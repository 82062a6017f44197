package deliverables

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cavendo/fleetctl/internal/apierr"
	"github.com/cavendo/fleetctl/pkg/models"
)

// FileUpload is one attachment pending disk write. Size validation runs
// against Content's length before Submit ever opens a transaction.
type FileUpload struct {
	Filename string
	Content  []byte
}

// unsafeFilenameChar matches anything outside spec §6's allowed filename
// alphabet.
var unsafeFilenameChar = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	return unsafeFilenameChar.ReplaceAllString(base, "_")
}

// ValidateFiles enforces the per-file and aggregate size ceilings before
// any I/O happens, so a rejected upload never produces an orphaned
// deliverable row.
func ValidateFiles(files []FileUpload) error {
	var total int64
	for _, f := range files {
		if int64(len(f.Content)) > models.MaxFileBytes {
			return apierr.Validation(apierr.FieldError{Path: "files." + f.Filename, Message: "exceeds the 10 MB per-file limit"})
		}
		total += int64(len(f.Content))
	}
	if total > models.MaxTotalFilesBytes {
		return apierr.Validation(apierr.FieldError{Path: "files", Message: "exceeds the 50 MB total attachment limit"})
	}
	return nil
}

// FileStore persists attachment bytes outside the versioning transaction.
type FileStore interface {
	Save(deliverableID string, files []FileUpload) ([]models.JSONMap, error)
}

// LocalFileStore writes attachments under root/deliverables/{id}/{safeFilename},
// matching spec §6's `data/uploads/deliverables/{id}/{safeFilename}` layout.
// The pack carries no library for local-disk attachment storage - this is a
// narrow, justified stdlib (os/filepath) use; see DESIGN.md.
type LocalFileStore struct {
	Root string
}

func NewLocalFileStore(root string) *LocalFileStore {
	return &LocalFileStore{Root: root}
}

func (s *LocalFileStore) Save(deliverableID string, files []FileUpload) ([]models.JSONMap, error) {
	dir := filepath.Join(s.Root, "deliverables", deliverableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment directory: %w", err)
	}

	refs := make([]models.JSONMap, 0, len(files))
	for _, f := range files {
		safe := sanitizeFilename(f.Filename)
		path := filepath.Join(dir, safe)
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return nil, fmt.Errorf("writing attachment %q: %w", safe, err)
		}
		refs = append(refs, models.JSONMap{
			"filename":  safe,
			"path":      path,
			"sizeBytes": len(f.Content),
		})
	}
	return refs, nil
}
