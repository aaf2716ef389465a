// Package mopparse inspects uploaded procedure documents: it decides which
// uploads are accepted, derives display names, and decodes structured
// (YAML) step lists when a document carries one.
package mopparse

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxUploadBytes bounds the size of an accepted upload.
const MaxUploadBytes = 5 << 20

// UntitledName is used when neither the caller nor the filename supplies a name.
const UntitledName = "Untitled"

// FileType classifies uploads by extension.
type FileType string

// Known upload file types.
const (
	FileTypeText  FileType = "txt"
	FileTypeYAML  FileType = "yaml"
	FileTypeMOP   FileType = "mop"
	FileTypeDocx  FileType = "docx"
	FileTypeDoc   FileType = "doc"
	FileTypePDF   FileType = "pdf"
	FileTypeOther FileType = "other"
)

var (
	// ErrUnsupportedType is returned for uploads that are neither text nor YAML.
	ErrUnsupportedType = errors.New("invalid file type: only MOP files, YAML, or plain text files are allowed")
	// ErrTooLarge is returned for uploads above MaxUploadBytes.
	ErrTooLarge = errors.New("file exceeds the 5MB upload limit")
	// ErrEmptyUpload is returned when no bytes were supplied.
	ErrEmptyUpload = errors.New("no file uploaded")
)

var allowedMediaTypes = map[string]struct{}{
	"text/plain":         {},
	"text/yaml":          {},
	"text/x-yaml":        {},
	"application/x-yaml": {},
	"application/yaml":   {},
}

var textExtensions = map[string]FileType{
	".txt":  FileTypeText,
	".yaml": FileTypeYAML,
	".yml":  FileTypeYAML,
	".mop":  FileTypeMOP,
	".docx": FileTypeDocx,
	".doc":  FileTypeDoc,
	".pdf":  FileTypePDF,
}

// DetectFileType maps a filename extension to a FileType.
func DetectFileType(filename string) FileType {
	if ft, ok := textExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return ft
	}
	return FileTypeOther
}

// Accepts reports whether an upload with the given name and declared content
// type may be stored as a MOP file.
func Accepts(filename, contentType string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if _, ok := allowedMediaTypes[strings.ToLower(mediaType)]; ok {
			return true
		}
	}
	switch DetectFileType(filename) {
	case FileTypeText, FileTypeYAML, FileTypeMOP:
		return true
	}
	return false
}

// Validate checks an upload against the type filter and size limit.
func Validate(filename, contentType string, size int64) error {
	if size <= 0 {
		return ErrEmptyUpload
	}
	if size > MaxUploadBytes {
		return ErrTooLarge
	}
	if !Accepts(filename, contentType) {
		return ErrUnsupportedType
	}
	return nil
}

// DisplayName picks the stored name for an upload: the explicit name when
// given, else the base filename without its extension, else UntitledName.
func DisplayName(explicit, filename string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		return stem
	}
	return UntitledName
}

// DecodeText turns uploaded bytes into text, dropping a UTF-8 byte order mark
// and replacing invalid sequences.
func DecodeText(data []byte) string {
	text := strings.TrimPrefix(string(data), "\ufeff")
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "\ufffd")
}
