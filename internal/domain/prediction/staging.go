package prediction

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxNameBytes = 100

// sanitizeName reduces a client supplied file name to a safe base name:
// directory parts and control characters are dropped and the result is
// capped in length, keeping the extension.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "upload"
	}
	if len(name) > maxNameBytes {
		i := len(name) - maxNameBytes
		for i < len(name) && !utf8.RuneStart(name[i]) {
			i++
		}
		name = name[i:]
	}
	return name
}

// stage copies src into a new file under the relay directory. The name
// combines a millisecond timestamp, a random token and the sanitized base
// name, and the file is opened with O_EXCL so concurrent uploads never
// share a file.
func (r *Relay) stage(fileName string, src io.Reader) (string, error) {
	name := fmt.Sprintf("%d_%s_%s", r.now().UnixMilli(), uuid.New().String()[:8], sanitizeName(fileName))
	p := filepath.Join(r.dir, name)

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", &StorageError{Op: "create staged file", Path: p, Err: err}
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", errors.Join(&StorageError{Op: "write staged file", Path: p, Err: err}, discard(p))
	}
	if err := f.Close(); err != nil {
		return "", errors.Join(&StorageError{Op: "close staged file", Path: p, Err: err}, discard(p))
	}
	return p, nil
}

// discard removes a staged file. A file that is already gone is fine.
func discard(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "remove staged file", Path: p, Err: err}
	}
	return nil
}
