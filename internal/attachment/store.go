// Package attachment serves the files (screenshots, logs) that reports
// reference from the results directory.
package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/raphi011/allureboard/internal/model"
	"github.com/spf13/afero"
)

const DefaultContentType = "application/octet-stream"

type Attachment struct {
	Name        string
	Data        []byte
	ContentType string
}

// Store opens attachments below a root directory.
type Store struct {
	fs   afero.Fs
	root string
}

func NewStore(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: root}
}

// Open reads the attachment at the slash separated path rel. Absolute paths
// and paths leaving the root are rejected with a QueryError.
func (s *Store) Open(rel string) (Attachment, error) {
	clean, err := cleanPath(rel)
	if err != nil {
		return Attachment{}, err
	}

	full := filepath.Join(s.root, filepath.FromSlash(clean))

	info, err := s.fs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return Attachment{}, model.NotFoundError{}
		}
		return Attachment{}, fmt.Errorf("accessing attachment %s: %w", clean, err)
	}

	if info.IsDir() {
		return Attachment{}, model.NotFoundError{}
	}

	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment %s: %w", clean, err)
	}

	return Attachment{
		Name:        path.Base(clean),
		Data:        data,
		ContentType: ContentType(clean, data),
	}, nil
}

func cleanPath(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, `\`, "/")

	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", model.QueryError{Param: "path", Reason: "must be a relative path"}
	}

	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", model.QueryError{Param: "path", Reason: "must not leave the results directory"}
		}
	}

	clean := path.Clean(rel)
	if clean == "." {
		return "", model.QueryError{Param: "path", Reason: "must reference a file"}
	}

	return clean, nil
}

type signature struct {
	prefix      []byte
	contentType string
}

var signatures = []signature{
	{prefix: []byte{0x89, 'P', 'N', 'G'}, contentType: "image/png"},
	{prefix: []byte{0xFF, 0xD8, 0xFF}, contentType: "image/jpeg"},
	{prefix: []byte("GIF8"), contentType: "image/gif"},
}

// ContentType derives the content type from the file extension and falls
// back to the leading magic bytes of data.
func ContentType(name string, data []byte) string {
	if ext := path.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
			return ct
		}
	}

	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.contentType
		}
	}

	return DefaultContentType
}
