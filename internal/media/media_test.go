package media

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"collaborative-draft-editor/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_Upload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "http://cdn.local/media/")
	require.NoError(t, err)

	ref, err := s.Upload(context.Background(), strings.NewReader("png-bytes"), "../../etc/Cat.PNG")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, ".png"))
	assert.NotContains(t, ref, "/")

	data, err := os.ReadFile(filepath.Join(dir, ref))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "http://cdn.local/media/"+ref, s.URL(ref))
}

func TestHandler_Upload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := NewLocalStorage(t.TempDir(), "/media")
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.POST("/media", NewHandler(s).Upload)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "photo.jpg")
	part.Write([]byte("jpeg"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/media", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "{{media:"+resp.Ref+"}}", resp.Marker)

	req = httptest.NewRequest(http.MethodPost, "/media", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
