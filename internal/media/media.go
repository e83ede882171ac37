// Package media stores uploaded media and hands out references that edits
// embed in session content.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"collaborative-draft-editor/internal/domain"
	"collaborative-draft-editor/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Store is the media boundary. The returned ref is what MediaAdd edits carry.
type Store interface {
	Upload(ctx context.Context, r io.Reader, filename string) (ref string, err error)
	URL(ref string) string
}

type LocalStorage struct {
	UploadDir string
	BaseURL   string
}

func NewLocalStorage(uploadDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &LocalStorage{UploadDir: uploadDir, BaseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes r under a uuid name so user file names never reach the disk
func (s *LocalStorage) Upload(ctx context.Context, r io.Reader, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := uuid.NewString() + strings.ToLower(filepath.Ext(filename))

	dst, err := os.Create(filepath.Join(s.UploadDir, ref))
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return ref, nil
}

func (s *LocalStorage) URL(ref string) string {
	return s.BaseURL + "/" + ref
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type UploadResponse struct {
	Ref    string `json:"ref"`
	URL    string `json:"url"`
	Marker string `json:"marker"`
}

// Upload handles POST /media with a multipart "file" field
func (h *Handler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.Error(errors.InvalidArgument("file is required", err))
		return
	}
	file, err := header.Open()
	if err != nil {
		c.Error(errors.InvalidArgument("unreadable upload", err))
		return
	}
	defer file.Close()

	ref, err := h.store.Upload(c.Request.Context(), file, header.Filename)
	if err != nil {
		c.Error(errors.UpstreamFailure("media upload failed", err))
		return
	}
	c.JSON(http.StatusCreated, UploadResponse{Ref: ref, URL: h.store.URL(ref), Marker: domain.MediaMarker(ref)})
}
