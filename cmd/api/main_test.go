package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chunkupload/internal/blob"
	"chunkupload/internal/config"
	"chunkupload/internal/database"
	"chunkupload/internal/domain/upload"
	jwtsvc "chunkupload/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSuite struct {
	router     *gin.Engine
	jwtService *jwtsvc.Service
}

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error,omitempty"`
}

func setupTestSuite(t *testing.T, requireOwner bool) *testSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		DatabaseURL: filepath.Join(dir, "uploads.db"),
		Upload: config.UploadConfig{
			Kind:           upload.DefaultKind,
			Expiration:     24 * time.Hour,
			StorageRoot:    filepath.Join(dir, "blobs"),
			Checksum:       "md5",
			ChecksumCheck:  true,
			UserRestricted: true,
			RequireOwner:   requireOwner,
		},
	}

	db, err := database.Connect(cfg.DatabaseURL, false)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	blobs := blob.NewLocalFS(cfg.Upload.StorageRoot)
	hub := upload.NewHub()
	svc := upload.NewService(upload.NewRepository(db), blobs, cfg.UploadOptions(), upload.WithNotifier(hub))
	j := jwtsvc.New("test_secret_key_32_characters_min", time.Hour)

	return &testSuite{
		router:     newRouter(cfg, db, j, upload.NewHandler(svc, hub)),
		jwtService: j,
	}
}

func (s *testSuite) token(t *testing.T, kind, id string) string {
	t.Helper()
	token, err := s.jwtService.GenerateToken(kind, id)
	require.NoError(t, err)
	return token
}

func (s *testSuite) do(t *testing.T, req *http.Request, token string) (int, testResponse) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp testResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body=%s", w.Body.String())
	}
	return w.Code, resp
}

func putChunk(path string, data []byte, start, total int) *http.Request {
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+len(data)-1, total))
	req.Header.Set("X-Filename", "video.mp4")
	return req
}

func TestHealth(t *testing.T) {
	s := setupTestSuite(t, false)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestUploadFlow_WithOwnerToken(t *testing.T) {
	s := setupTestSuite(t, true)
	alice := s.token(t, "user", "alice")
	bob := s.token(t, "user", "bob")

	data := bytes.Repeat([]byte("0123456789"), 2500)
	sum := md5.Sum(data)

	// anonymous uploads are refused
	code, resp := s.do(t, putChunk("/api/v1/uploads", data[:10000], 0, len(data)), "")
	require.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	// forged token
	code, _ = s.do(t, putChunk("/api/v1/uploads", data[:10000], 0, len(data)), "not-a-token")
	require.Equal(t, http.StatusUnauthorized, code)

	code, resp = s.do(t, putChunk("/api/v1/uploads", data[:10000], 0, len(data)), alice)
	require.Equal(t, http.StatusOK, code)
	var created struct {
		ID     string `json:"id"`
		Offset int64  `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, int64(10000), created.Offset)

	// another owner cannot see or extend it
	code, _ = s.do(t, putChunk("/api/v1/uploads/"+created.ID, data[10000:20000], 10000, len(data)), bob)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, putChunk("/api/v1/uploads/"+created.ID, data[20000:], 20000, len(data)), alice)
	require.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, float64(10000), resp.Error.Details["expected_offset"])

	for _, start := range []int{10000, 20000} {
		end := start + 10000
		if end > len(data) {
			end = len(data)
		}
		code, _ = s.do(t, putChunk("/api/v1/uploads/"+created.ID, data[start:end], start, len(data)), alice)
		require.Equal(t, http.StatusOK, code)
	}

	form := url.Values{"md5": {hex.EncodeToString(sum[:])}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/"+created.ID, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	code, resp = s.do(t, req, alice)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"status":"complete"`)

	code, resp = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/uploads?status=complete", nil), alice)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), created.ID)

	code, _ = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+created.ID, nil), alice)
	assert.Equal(t, http.StatusOK, code)
}
