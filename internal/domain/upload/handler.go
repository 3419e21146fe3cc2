package upload

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"chunkupload/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	fieldFile     = "file"
	fieldFilename = "filename"
	fieldUploadID = "upload_id"

	maxMemory = 32 << 20
)

// Handler exposes the upload protocol over HTTP. The caller identity is read
// from the "owner_kind"/"owner_id" context keys set by the auth middleware.
type Handler struct {
	service  *Service
	hub      *Hub
	basePath string
}

func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub, basePath: "/uploads"}
}

// PutChunk godoc
// @Summary Upload one chunk
// @Description Without an id a new upload is started. Requires Content-Range.
// @Description A new upload must start at byte 0; any other start is rejected with
// @Description OFFSET_MISMATCH and details.expected_offset 0.
// @Tags Uploads
// @Accept multipart/form-data,application/octet-stream
// @Produce json
// @Param id path string false "Upload ID"
// @Param Content-Range header string true "bytes <start>-<end>/<total>"
// @Param file formData file true "Chunk bytes"
// @Success 200 {object} map[string]interface{}
// @Failure 400,401,404,410 {object} map[string]interface{}
// @Router /uploads/{id} [put]
func (h *Handler) PutChunk(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, string(KindValidation), err.Error())
		return
	}
	defer body.close()

	id := c.Param("id")
	if id == "" {
		id = body.uploadID
	}

	u, err := h.service.AppendChunk(c.Request.Context(), ChunkRequest{
		UploadID:     id,
		Filename:     body.filename,
		ContentRange: c.GetHeader("Content-Range"),
		Payload:      body.payload,
		PayloadSize:  body.size,
		Caller:       callerFrom(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.toResponse(c, u))
}

// Complete godoc
// @Summary Complete an upload
// @Description Verifies the checksum (field named after the algorithm, default md5).
// @Description Without an id the request must carry the whole file.
// @Tags Uploads
// @Accept multipart/form-data,application/json
// @Produce json
// @Param id path string false "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400,401,404,410 {object} map[string]interface{}
// @Router /uploads/{id} [post]
func (h *Handler) Complete(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		response.Error(c, http.StatusBadRequest, string(KindValidation), err.Error())
		return
	}
	defer body.close()

	algo := h.service.Options().ChecksumAlgorithm
	req := CompleteRequest{
		UploadID: c.Param("id"),
		Checksum: body.field(algo),
		Caller:   callerFrom(c),
	}
	if req.Checksum == "" {
		req.Checksum = c.Query(algo)
	}
	if req.UploadID == "" {
		req.UploadID = body.uploadID
	}
	if body.payload != nil {
		req.Chunk = &ChunkRequest{
			Filename:    body.filename,
			Payload:     body.payload,
			PayloadSize: body.size,
		}
		if req.UploadID != "" {
			// a final chunk for an existing upload still needs its range
			if _, err := h.service.AppendChunk(c.Request.Context(), ChunkRequest{
				UploadID:     req.UploadID,
				ContentRange: c.GetHeader("Content-Range"),
				Payload:      body.payload,
				PayloadSize:  body.size,
				Caller:       req.Caller,
			}); err != nil {
				h.fail(c, err)
				return
			}
			req.Chunk = nil
		}
	}

	res, err := h.service.Complete(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Response != nil {
		response.Success(c, http.StatusOK, res.Response)
		return
	}
	response.Success(c, http.StatusOK, h.toResponse(c, res.Upload))
}

// Abort godoc
// @Summary Abort an upload in progress
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400,404,410 {object} map[string]interface{}
// @Router /uploads/{id}/abort [post]
func (h *Handler) Abort(c *gin.Context) {
	u, err := h.service.Abort(c.Request.Context(), c.Param("id"), callerFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.toResponse(c, u))
}

// Get godoc
// @Summary Get upload state by ID
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /uploads/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	u, err := h.service.Get(c.Request.Context(), c.Param("id"), callerFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.toResponse(c, u))
}

// List godoc
// @Summary List uploads visible to the caller
// @Tags Uploads
// @Produce json
// @Param status query string false "uploading, complete or aborted"
// @Success 200 {object} map[string]interface{}
// @Router /uploads [get]
func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, string(KindValidation), "status must be one of: uploading, complete, aborted")
		return
	}

	uploads, err := h.service.List(c.Request.Context(), callerFrom(c), Status(q.Status))
	if err != nil {
		h.fail(c, err)
		return
	}

	items := make([]uploadResponse, 0, len(uploads))
	for _, u := range uploads {
		items = append(items, h.toResponse(c, u))
	}
	response.Success(c, http.StatusOK, items)
}

// Delete godoc
// @Summary Delete an upload (record + file)
// @Tags Uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404,500 {object} map[string]interface{}
// @Router /uploads/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		id = c.PostForm(fieldUploadID)
	}
	if id == "" {
		id = c.Query(fieldUploadID)
	}

	if err := h.service.Delete(c.Request.Context(), id, callerFrom(c)); err != nil {
		h.fail(c, err)
		return
	}
	response.Message(c, http.StatusOK, "deleted")
}

// Events godoc
// @Summary Stream upload progress events over a websocket
// @Tags Uploads
// @Security BearerAuth
// @Router /uploads/events [get]
func (h *Handler) Events(c *gin.Context) {
	caller := callerFrom(c)
	if caller == nil {
		response.Error(c, http.StatusUnauthorized, string(KindAuth), "authentication required")
		return
	}
	if h.hub == nil {
		response.Error(c, http.StatusNotFound, string(KindNotFound), "events are disabled")
		return
	}
	h.hub.Serve(c.Writer, c.Request, *caller)
}

func (h *Handler) fail(c *gin.Context, err error) {
	var e *Error
	if errors.As(err, &e) {
		status := HTTPStatus(e)
		if details := e.Details(); details != nil {
			response.ErrorWithDetails(c, status, string(e.Kind), e.Message, details)
			return
		}
		response.Error(c, status, string(e.Kind), e.Message)
		return
	}

	slog.Error("upload request failed",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"error", err,
	)
	_ = c.Error(err)
	response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "upload failed")
}

func (h *Handler) toResponse(c *gin.Context, u *Upload) uploadResponse {
	return uploadResponse{
		ID:          u.ID,
		URL:         h.recordURL(c, u.ID),
		Kind:        u.Kind,
		Filename:    u.Filename,
		Offset:      u.Offset,
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
		CompletedAt: u.CompletedAt,
		ExpiresAt:   h.service.ExpiresAt(u),
		Expired:     h.service.IsExpired(u),
	}
}

func (h *Handler) recordURL(c *gin.Context, id string) string {
	loc := strings.TrimSuffix(h.basePath, "/") + "/" + id
	if c.Request.Host == "" {
		return loc
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + loc
}

func callerFrom(c *gin.Context) *OwnerRef {
	id := c.GetString("owner_id")
	if id == "" {
		return nil
	}
	return &OwnerRef{Kind: c.GetString("owner_kind"), ID: id}
}

// requestBody is the chunk and form fields of a PUT or POST, whatever the
// encoding. payload is nil when no chunk was sent.
type requestBody struct {
	payload  io.Reader
	size     int64
	filename string
	uploadID string
	fields   map[string]string
	file     multipart.File
}

func (b *requestBody) field(name string) string {
	return b.fields[name]
}

func (b *requestBody) close() {
	if b.file != nil {
		b.file.Close()
	}
}

func readBody(c *gin.Context) (*requestBody, error) {
	b := &requestBody{fields: make(map[string]string)}
	contentType := c.ContentType()

	switch contentType {
	case "multipart/form-data":
		if err := c.Request.ParseMultipartForm(maxMemory); err != nil {
			return nil, errors.New("malformed multipart body")
		}
		for k, v := range c.Request.MultipartForm.Value {
			if len(v) > 0 {
				b.fields[k] = v[0]
			}
		}
		if files := c.Request.MultipartForm.File[fieldFile]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				return nil, errors.New("unreadable chunk file")
			}
			b.file = f
			b.payload = f
			b.size = files[0].Size
			b.filename = files[0].Filename
		}

	case "application/x-www-form-urlencoded":
		if err := c.Request.ParseForm(); err != nil {
			return nil, errors.New("malformed form body")
		}
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				b.fields[k] = v[0]
			}
		}

	case "application/json":
		var body completeJSON
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.New("malformed JSON body")
		}
		for k := range body {
			if s := body.str(k); s != "" {
				b.fields[k] = s
			}
		}

	case "application/octet-stream":
		b.payload = c.Request.Body
		b.size = c.Request.ContentLength
		if b.size < 0 {
			data, err := io.ReadAll(c.Request.Body)
			if err != nil {
				return nil, errors.New("unreadable request body")
			}
			b.payload = bytes.NewReader(data)
			b.size = int64(len(data))
		}
		b.filename = c.GetHeader("X-Filename")
	}

	if name := b.fields[fieldFilename]; name != "" {
		b.filename = name
	}
	if b.filename == "" {
		b.filename = c.Query(fieldFilename)
	}
	b.uploadID = b.fields[fieldUploadID]
	return b, nil
}
