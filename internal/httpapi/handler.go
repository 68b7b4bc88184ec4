package httpapi

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"shopbot/internal/broadcast"
	"shopbot/internal/objectstore"
	"shopbot/internal/store"
	"shopbot/pkg/logx"
)

// BroadcastService is the slice of the broadcast engine the admin API
// needs.
type BroadcastService interface {
	Send(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
	Test(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
	History(ctx context.Context, limit int) ([]store.BroadcastRecord, error)
}

// ObjectStore stores broadcast images. Nil disables image upload.
type ObjectStore interface {
	Upload(ctx context.Context, name, contentType string, size int64, body io.Reader) (string, error)
	PresignUpload(ctx context.Context, name, contentType string, size int64) (objectstore.PresignedUpload, error)
}

type Handler struct {
	svc     BroadcastService
	objects ObjectStore
	log     logx.Logger
}

func NewHandler(svc BroadcastService, objects ObjectStore, log logx.Logger) *Handler {
	return &Handler{svc: svc, objects: objects, log: log}
}

func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.POST("/broadcast/send", h.sendForm)
		api.POST("/broadcast/test", h.testForm)
		api.GET("/broadcast/history", h.history)
		api.POST("/bot/broadcast", h.sendJSON)
		api.POST("/objects/upload", h.presignUpload)
	}
}

// sendForm handles the admin UI form: multipart fields plus an optional
// image file that is stored before delivery starts.
func (h *Handler) sendForm(c *gin.Context) {
	req, ok := h.formRequest(c)
	if !ok {
		return
	}
	h.deliver(c, req)
}

func (h *Handler) testForm(c *gin.Context) {
	req, ok := h.formRequest(c)
	if !ok {
		return
	}
	req.IsTest = true

	res, err := h.svc.Test(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type botBroadcastRequest struct {
	Message     string `json:"message"`
	ImageURL    string `json:"imageUrl"`
	TargetType  string `json:"targetType"`
	CustomUsers string `json:"customUsers"`
}

// sendJSON is the programmatic surface: audience by target type, image by
// URL reference only.
func (h *Handler) sendJSON(c *gin.Context) {
	var body botBroadcastRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	audience, err := broadcast.ParseAudience(body.TargetType, body.CustomUsers)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.deliver(c, broadcast.Request{
		Message:  body.Message,
		ImageURL: body.ImageURL,
		Audience: audience,
	})
}

func (h *Handler) history(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.svc.History(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []store.BroadcastRecord{}
	}
	c.JSON(http.StatusOK, records)
}

type presignRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

func (h *Handler) presignUpload(c *gin.Context) {
	if h.objects == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage is not configured"})
		return
	}
	var body presignRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	presigned, err := h.objects.PresignUpload(c.Request.Context(), body.Name, body.ContentType, body.Size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, presigned)
}

// formRequest parses the shared multipart shape of the send and test
// routes, storing the attached image if any.
func (h *Handler) formRequest(c *gin.Context) (broadcast.Request, bool) {
	target := c.PostForm("targetAudience")
	if target == "" {
		target = "all"
	}
	audience, err := broadcast.ParseAudience(target, c.PostForm("customUsers"))
	if err != nil {
		h.fail(c, err)
		return broadcast.Request{}, false
	}

	req := broadcast.Request{
		Title:    c.PostForm("title"),
		Message:  c.PostForm("message"),
		Audience: audience,
	}

	file, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image upload"})
		return broadcast.Request{}, false
	default:
		url, ok := h.storeImage(c, file)
		if !ok {
			return broadcast.Request{}, false
		}
		req.ImageURL = url
	}
	return req, true
}

func (h *Handler) storeImage(c *gin.Context, file *multipart.FileHeader) (string, bool) {
	if h.objects == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage is not configured"})
		return "", false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image upload"})
		return "", false
	}
	defer f.Close()

	url, err := h.objects.Upload(c.Request.Context(), file.Filename, file.Header.Get("Content-Type"), file.Size, f)
	if err != nil {
		h.fail(c, err)
		return "", false
	}
	return url, true
}

func (h *Handler) deliver(c *gin.Context, req broadcast.Request) {
	res, err := h.svc.Send(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	// Partial delivery is still a 200; the tally tells the story.
	c.JSON(http.StatusOK, res)
}

// fail maps engine errors onto status codes: caller mistakes are 400s,
// everything else is a 500 with the detail kept server-side.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *broadcast.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, broadcast.ErrEmptyAudience),
		errors.Is(err, objectstore.ErrInvalidImage),
		errors.Is(err, objectstore.ErrTooLarge),
		errors.Is(err, objectstore.ErrMissingDetails):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed",
			logx.String("path", c.FullPath()),
			logx.Err(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
