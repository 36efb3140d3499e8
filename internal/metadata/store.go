// Prompt metadata embedded in JPEG files as an EXIF comment
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	dslog "github.com/dsoprea/go-logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

// CommentTag is the IFD0 tag that carries the prompt. Windows shows it as
// the file comment; it is stored as NUL terminated UTF-16LE bytes.
const CommentTag = "XPComment"

// ErrNotJPEG is returned when writing metadata to a file that is not a JPEG
var ErrNotJPEG = errors.New("metadata is only supported for JPEG files")

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Store reads and writes prompts. It does not lock files: callers serialize
// access to a given path.
type Store struct {
	logger logrus.FieldLogger
}

func NewStore(logger logrus.FieldLogger) *Store {
	return &Store{logger: logger}
}

// ReadPrompt returns the embedded prompt. The boolean is false when the file
// carries no prompt, which is not an error. Non-JPEG files never carry one.
func (s *Store) ReadPrompt(path string) (string, bool, error) {
	if !IsJPEG(path) {
		return "", false, nil
	}

	sl, err := parseFile(path)
	if err != nil {
		return "", false, err
	}

	rootIfd, _, err := sl.Exif()
	if err != nil {
		if dslog.Is(err, exif.ErrNoExif) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read exif of %s: %w", path, err)
	}

	results, err := rootIfd.FindTagWithName(CommentTag)
	if err != nil {
		if dslog.Is(err, exif.ErrTagNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up %s in %s: %w", CommentTag, path, err)
	}
	if len(results) == 0 {
		return "", false, nil
	}

	value, err := results[0].Value()
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s of %s: %w", CommentTag, path, err)
	}

	raw, ok := value.([]byte)
	if !ok {
		return "", false, fmt.Errorf("unexpected %s value type %T in %s", CommentTag, value, path)
	}

	text, err := DecodeComment(raw)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode %s of %s: %w", CommentTag, path, err)
	}

	return text, true, nil
}

// WritePrompt stores prompt in the file at path. Only the EXIF segment is
// replaced; the compressed image data is copied as is, so no quality is lost.
// The file is rewritten through a temporary file and a rename.
func (s *Store) WritePrompt(path, prompt string) error {
	if !IsJPEG(path) {
		return fmt.Errorf("%w: %s", ErrNotJPEG, path)
	}

	sl, err := parseFile(path)
	if err != nil {
		return err
	}

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		return fmt.Errorf("failed to build exif for %s: %w", path, err)
	}

	if err := rootIb.SetStandardWithName(CommentTag, EncodeComment(prompt)); err != nil {
		return fmt.Errorf("failed to set %s: %w", CommentTag, err)
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("failed to update exif segment: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	if err := replaceFile(path, buf.Bytes()); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"path":   path,
		"length": len(prompt),
	}).Debug("Prompt metadata written")
	return nil
}

// EncodeComment converts text to the NUL terminated UTF-16LE form used by XPComment
func EncodeComment(text string) []byte {
	encoded, err := utf16le.NewEncoder().Bytes([]byte(text))
	if err != nil {
		// invalid UTF-8 is replaced rather than rejected
		encoded, _ = utf16le.NewEncoder().Bytes([]byte(strings.ToValidUTF8(text, "�")))
	}
	return append(encoded, 0, 0)
}

// DecodeComment reverses EncodeComment, tolerating a missing terminator
func DecodeComment(raw []byte) (string, error) {
	if len(raw)%2 == 1 {
		raw = raw[:len(raw)-1]
	}
	decoded, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(decoded), "\x00"), nil
}

// IsJPEG reports whether path has a JPEG file extension
func IsJPEG(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".jfif":
		return true
	}
	return false
}

func parseFile(path string) (*jpegstructure.SegmentList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	intfc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jpeg %s: %w", path, err)
	}

	sl, ok := intfc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, fmt.Errorf("unexpected jpeg structure %T for %s", intfc, path)
	}
	return sl, nil
}

func replaceFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
