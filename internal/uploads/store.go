// Package uploads validates and stores files attached to submissions and
// serves them back through the admin download proxy.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opPrepare = "uploads.prepare"
	opSave    = "uploads.save"
	opOpen    = "uploads.open"
	opLookup  = "uploads.lookup"

	// DefaultMaxBytes is the per-file size cap.
	DefaultMaxBytes int64 = 10 * 1024 * 1024

	// FilePath is the route that serves stored uploads.
	FilePath = "/form-builder/v1/file"

	dirPermissions = 0o750
)

type allowedType struct {
	mime string
	// sniffed lists content types accepted from detection besides mime itself.
	sniffed []string
}

var allowedTypes = map[string]allowedType{
	"pdf":  {mime: "application/pdf"},
	"png":  {mime: "image/png"},
	"jpg":  {mime: "image/jpeg"},
	"jpeg": {mime: "image/jpeg"},
	"gif":  {mime: "image/gif"},
	"txt":  {mime: "text/plain"},
	"csv":  {mime: "text/csv", sniffed: []string{"text/plain"}},
	"zip":  {mime: "application/zip"},
	"doc":  {mime: "application/msword", sniffed: []string{"application/x-ole-storage"}},
	"docx": {mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"ppt":  {mime: "application/vnd.ms-powerpoint", sniffed: []string{"application/x-ole-storage"}},
	"pptx": {mime: "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
}

// Metadata replaces a file field inside the stored submission data.
type Metadata struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Upload is one file posted under a form field.
type Upload struct {
	Field  string
	Header *multipart.FileHeader
}

type Config struct {
	Root          string
	MaxBytes      int64
	PublicBaseURL string
	Logger        *zap.Logger
}

// Store keeps uploads as flat files under Root.
type Store struct {
	root     string
	maxBytes int64
	baseURL  string
	logger   *zap.Logger
}

func NewStore(cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, apperrors.New(opPrepare, "missing_root", apperrors.KindInternal, "", errors.New("upload root is required"))
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.New(opPrepare, "invalid_root", apperrors.KindInternal, "", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		root:     absolute,
		maxBytes: maxBytes,
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		logger:   logger,
	}, nil
}

// Root returns the absolute upload directory.
func (s *Store) Root() string {
	return s.root
}

// Prepare creates the upload directory.
func (s *Store) Prepare() error {
	if err := os.MkdirAll(s.root, dirPermissions); err != nil {
		return apperrors.New(opPrepare, "mkdir_failed", apperrors.KindInternal, "", err)
	}
	return nil
}

// SaveAll validates the submission UUID and every upload before writing any of
// them, then stores each one. If a write fails, files written earlier in the call are removed.
func (s *Store) SaveAll(ctx context.Context, submissionUUID string, uploads []Upload) (map[string]Metadata, error) {
	if err := uuid.Validate(submissionUUID); err != nil {
		return nil, apperrors.New(opSave, "invalid_submission_uuid", apperrors.KindInvalid, "Invalid submission UUID", err)
	}
	result := make(map[string]Metadata, len(uploads))
	pending := make([]Upload, 0, len(uploads))
	for _, upload := range uploads {
		if upload.Header == nil || strings.TrimSpace(upload.Header.Filename) == "" {
			continue
		}
		if err := s.validate(upload); err != nil {
			return nil, err
		}
		pending = append(pending, upload)
	}
	if len(pending) == 0 {
		return result, nil
	}
	if err := s.Prepare(); err != nil {
		return nil, err
	}

	written := make([]string, 0, len(pending))
	rollback := func() {
		for _, path := range written {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("upload rollback failed", zap.String("path", path), zap.Error(err))
			}
		}
	}

	for _, upload := range pending {
		if err := ctx.Err(); err != nil {
			rollback()
			return nil, apperrors.New(opSave, "canceled", apperrors.KindInternal, "", err)
		}
		meta, err := s.write(submissionUUID, upload)
		if err != nil {
			rollback()
			return nil, err
		}
		written = append(written, meta.Path)
		result[upload.Field] = meta
	}
	s.logger.Info("uploads stored", zap.String("submission_uuid", submissionUUID), zap.Int("count", len(result)))
	return result, nil
}

func (s *Store) validate(upload Upload) error {
	header := upload.Header
	if header.Size > s.maxBytes {
		return apperrors.New(opSave, "file_too_large", apperrors.KindTooLarge, "File too large for "+upload.Field, nil)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	allowed, ok := allowedTypes[ext]
	if !ok {
		return apperrors.New(opSave, "invalid_type", apperrors.KindUnsupportedMedia, "Invalid file type for "+upload.Field, nil)
	}

	file, err := header.Open()
	if err != nil {
		return apperrors.New(opSave, "upload_error", apperrors.KindInvalid, "Failed to upload file for "+upload.Field, err)
	}
	defer file.Close()

	detected, err := mimetype.DetectReader(file)
	if err != nil {
		return apperrors.New(opSave, "upload_error", apperrors.KindInvalid, "Failed to upload file for "+upload.Field, err)
	}
	if !matchesType(detected, allowed) {
		s.logger.Info("upload content mismatch",
			zap.String("field", upload.Field),
			zap.String("extension", ext),
			zap.String("detected", detected.String()))
		return apperrors.New(opSave, "invalid_type", apperrors.KindUnsupportedMedia, "Invalid file type for "+upload.Field, nil)
	}
	return nil
}

func matchesType(detected *mimetype.MIME, allowed allowedType) bool {
	accepted := append([]string{allowed.mime}, allowed.sniffed...)
	for current := detected; current != nil; current = current.Parent() {
		for _, candidate := range accepted {
			if current.Is(candidate) {
				return true
			}
		}
	}
	return false
}

func (s *Store) write(submissionUUID string, upload Upload) (Metadata, error) {
	safeName := SanitizeFilename(upload.Header.Filename)
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	destination := filepath.Join(s.root, fmt.Sprintf("%s-%s-%s", submissionUUID, token, safeName))
	if !within(s.root, destination) || filepath.Dir(destination) != s.root {
		s.logger.Warn("upload destination outside root", zap.String("path", destination))
		return Metadata{}, apperrors.New(opSave, "forbidden", apperrors.KindForbidden, "Access denied", nil)
	}

	source, err := upload.Header.Open()
	if err != nil {
		return Metadata{}, apperrors.New(opSave, "upload_error", apperrors.KindInvalid, "Failed to upload file for "+upload.Field, err)
	}
	defer source.Close()

	temp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return Metadata{}, apperrors.New(opSave, "upload_move_failed", apperrors.KindInternal, "Could not secure file location", err)
	}
	tempPath := temp.Name()
	discard := func() {
		_ = temp.Close()
		_ = os.Remove(tempPath)
	}

	size, err := io.Copy(temp, io.LimitReader(source, s.maxBytes+1))
	if err != nil {
		discard()
		return Metadata{}, apperrors.New(opSave, "upload_move_failed", apperrors.KindInternal, "Could not secure file location", err)
	}
	if size > s.maxBytes {
		discard()
		return Metadata{}, apperrors.New(opSave, "file_too_large", apperrors.KindTooLarge, "File too large for "+upload.Field, nil)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return Metadata{}, apperrors.New(opSave, "upload_move_failed", apperrors.KindInternal, "Could not secure file location", err)
	}
	if err := os.Rename(tempPath, destination); err != nil {
		_ = os.Remove(tempPath)
		return Metadata{}, apperrors.New(opSave, "upload_move_failed", apperrors.KindInternal, "Could not secure file location", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(upload.Header.Filename)), ".")
	return Metadata{
		Name: safeName,
		MIME: allowedTypes[ext].mime,
		Size: size,
		Path: destination,
		URL:  s.fileURL(submissionUUID, upload.Field),
	}, nil
}

func (s *Store) fileURL(submissionUUID, field string) string {
	query := url.Values{}
	query.Set("submission_uuid", submissionUUID)
	query.Set("field", field)
	return s.baseURL + FilePath + "?" + query.Encode()
}

// Open returns the stored file described by meta. Paths that resolve outside
// the upload root are forbidden; missing files are not found.
func (s *Store) Open(meta Metadata) (*os.File, error) {
	if strings.TrimSpace(meta.Path) == "" {
		return nil, apperrors.New(opOpen, "not_found", apperrors.KindNotFound, "File not found for field", nil)
	}
	root, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return nil, apperrors.New(opOpen, "forbidden", apperrors.KindForbidden, "Access denied", err)
	}
	resolved, err := filepath.EvalSymlinks(meta.Path)
	if errors.Is(err, fs.ErrNotExist) {
		requested, absErr := filepath.Abs(meta.Path)
		if absErr != nil || (!within(s.root, requested) && !within(root, requested)) {
			return nil, apperrors.New(opOpen, "forbidden", apperrors.KindForbidden, "Access denied", nil)
		}
		return nil, apperrors.New(opOpen, "not_found", apperrors.KindNotFound, "File not found for field", err)
	}
	if err != nil {
		return nil, apperrors.New(opOpen, "forbidden", apperrors.KindForbidden, "Access denied", err)
	}
	if !within(root, resolved) {
		s.logger.Warn("upload path outside root", zap.String("path", meta.Path))
		return nil, apperrors.New(opOpen, "forbidden", apperrors.KindForbidden, "Access denied", nil)
	}
	file, err := os.Open(resolved)
	if err != nil {
		return nil, apperrors.New(opOpen, "read_error", apperrors.KindInternal, "Could not read file", err)
	}
	return file, nil
}

func within(root, path string) bool {
	relative, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)) && relative != "."
}

// LookupMetadata extracts the upload metadata stored for field in submission data.
func LookupMetadata(formData []byte, field string) (Metadata, error) {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(formData, &document); err != nil {
		return Metadata{}, apperrors.New(opLookup, "not_found", apperrors.KindNotFound, "File not found for field", err)
	}
	raw, ok := document[field]
	if !ok {
		return Metadata{}, apperrors.New(opLookup, "not_found", apperrors.KindNotFound, "File not found for field", nil)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil || strings.TrimSpace(meta.Path) == "" {
		return Metadata{}, apperrors.New(opLookup, "not_found", apperrors.KindNotFound, "File not found for field", err)
	}
	return meta, nil
}

// SanitizeFilename keeps the base name's letters, digits, dots, dashes and
// underscores. Whitespace becomes a dash.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var builder strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			builder.WriteRune(r)
		case r == ' ' || r == '\t':
			builder.WriteByte('-')
		}
	}
	cleaned := strings.Trim(builder.String(), ".-_")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}
