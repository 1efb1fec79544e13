// Package blobstore stores complaint attachments on the local filesystem.
// Saved files get a random name and are addressed by a relative path such as
// "uploads/3f0c….pdf" under RoutePrefix, wherever the directory lives on
// disk. Files are never deleted by the application.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// RoutePrefix is the URL path the upload directory is served under.
const RoutePrefix = "/uploads"

var (
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// AllowedContentTypes lists the attachment types accepted with a complaint.
var AllowedContentTypes = map[string]string{
	"image/png":          ".png",
	"image/jpeg":         ".jpg",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// Attachment describes a saved file.
type Attachment struct {
	Path        string `json:"path"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
}

// Store saves attachment content and returns where it can be fetched.
type Store interface {
	Save(ctx context.Context, fileName, contentType string, content io.Reader) (*Attachment, error)
}

// DiskStore writes attachments under a single directory.
type DiskStore struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
}

// NewDiskStore creates dir when missing.
func NewDiskStore(fs afero.Fs, dir string, maxBytes int64) (*DiskStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{fs: fs, dir: dir, maxBytes: maxBytes}, nil
}

// Save validates the content type, streams content to a temporary file while
// hashing it, and renames it into place once the size limit is known to hold.
func (s *DiskStore) Save(ctx context.Context, fileName, contentType string, content io.Reader) (*Attachment, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, ErrMissingFileName
	}
	mediaType, ext, err := normalizeContentType(contentType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp, err := afero.TempFile(s.fs, s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			s.fs.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(content, s.maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close attachment: %w", closeErr)
	}
	if n > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	name := uuid.NewString() + ext
	if err := s.fs.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	committed = true

	return &Attachment{
		Path:        path.Join(strings.TrimPrefix(RoutePrefix, "/"), name),
		FileName:    filepath.Base(fileName),
		ContentType: mediaType,
		Size:        n,
		Hash:        hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// SaveFormFile saves a multipart file part. When the part carries no
// Content-Type the type is sniffed from the first bytes.
func SaveFormFile(ctx context.Context, s Store, fh *multipart.FileHeader) (*Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open form file: %w", err)
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	var r io.Reader = f
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		head = head[:n]
		contentType = http.DetectContentType(head)
		r = io.MultiReader(bytes.NewReader(head), f)
	}
	return s.Save(ctx, fh.Filename, contentType, r)
}

func normalizeContentType(contentType string) (string, string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", "", ErrInvalidContentType
	}
	ext, ok := AllowedContentTypes[strings.ToLower(mediaType)]
	if !ok {
		return "", "", ErrInvalidContentType
	}
	return strings.ToLower(mediaType), ext, nil
}
