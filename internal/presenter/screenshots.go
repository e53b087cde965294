package presenter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

// ScreenshotSaver writes received images under Dir, one file per image.
type ScreenshotSaver struct {
	Dir string
	now func() time.Time
}

func NewScreenshotSaver(dir string) *ScreenshotSaver {
	return &ScreenshotSaver{Dir: dir, now: time.Now}
}

// Save writes image as <sender>_<timestamp><ext> and returns the path. The
// extension comes from the image bytes, not from anything the peer claims.
func (s *ScreenshotSaver) Save(from string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot dir: %w", err)
	}

	ext := mimetype.Detect(image).Extension()
	if ext == "" || ext == ".txt" {
		ext = ".bin"
	}
	name := fmt.Sprintf("%s_%s%s", fileSafe(from), s.now().Format("20060102_150405.000"), ext)
	path := filepath.Join(s.Dir, name)

	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

// fileSafe turns "Client 12" into "client12".
func fileSafe(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
