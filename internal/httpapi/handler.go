// Package httpapi exposes the attendance lifecycle over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"qrattend/internal/artifact"
	"qrattend/internal/attendance"
	"qrattend/internal/httpmiddleware"
)

//go:embed templates/*.html
var templateFS embed.FS

const maxBodyBytes = 64 << 10

// Service is the lifecycle controller consumed by the handlers.
type Service interface {
	CheckIn(ctx context.Context, extra map[string]any) (attendance.Record, error)
	CheckOut(ctx context.Context, code string) (attendance.Record, error)
	Find(ctx context.Context, code string) (attendance.Record, error)
	List(ctx context.Context) ([]attendance.Record, error)
	Artifact(ctx context.Context, code string) (string, error)
}

// HealthFunc reports dependency health by name.
type HealthFunc func(ctx context.Context) map[string]bool

// Handler serves the attendance API.
type Handler struct {
	svc    Service
	health HealthFunc
	log    logrus.FieldLogger
}

// New creates a handler. health may be nil.
func New(svc Service, health HealthFunc, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, health: health, log: log}
}

// Templates parses the embedded HTML views.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// Register mounts the routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.SetHTMLTemplate(Templates())

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api/attendance")
	{
		api.POST("", h.CheckIn)
		api.GET("", h.List)
		api.GET("/:code", h.Get)
		api.PUT("/:code", h.CheckOut)
		api.GET("/:code/qr.png", h.QR)
	}
}

// Healthz reports 503 when any dependency is down.
func (h *Handler) Healthz(c *gin.Context) {
	deps := map[string]bool{}
	if h.health != nil {
		deps = h.health(c.Request.Context())
	}
	status := http.StatusOK
	for _, ok := range deps {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "deps": deps})
}

type codeView struct {
	Code      string
	QRSrc     template.URL
	CreatedAt string
	UpdatedAt string
}

// CheckIn creates a record from the JSON or form body and renders the code view.
func (h *Handler) CheckIn(c *gin.Context) {
	extra, err := readExtra(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	rec, err := h.svc.CheckIn(c.Request.Context(), extra)
	if err != nil {
		h.writeError(c, "create attendance", err)
		return
	}

	src := template.URL(rec.Artifact)
	if rec.Artifact == "" {
		src = template.URL("/api/attendance/" + rec.Code + "/qr.png")
	}
	c.Negotiate(http.StatusCreated, gin.Negotiate{
		Offered:  []string{gin.MIMEJSON, gin.MIMEHTML},
		HTMLName: "code.html",
		HTMLData: codeView{
			Code:      rec.Code,
			QRSrc:     src,
			CreatedAt: rec.CreatedAt.Format(attendance.TimeLayout),
			UpdatedAt: rec.UpdatedAt.Format(attendance.TimeLayout),
		},
		JSONData: gin.H{"success": true, "data": rec},
	})
}

// CheckOut records the checkout time for the code in the path.
func (h *Handler) CheckOut(c *gin.Context) {
	code, ok := pathCode(c)
	if !ok {
		return
	}
	rec, err := h.svc.CheckOut(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, "checkout", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Checkout recorded successfully",
		"data":    rec,
	})
}

// List returns every record.
func (h *Handler) List(c *gin.Context) {
	records, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.writeError(c, "list attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "count": len(records)})
}

// Get returns a single record.
func (h *Handler) Get(c *gin.Context) {
	code, ok := pathCode(c)
	if !ok {
		return
	}
	rec, err := h.svc.Find(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, "get attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rec})
}

// QR serves the code's QR image as PNG.
func (h *Handler) QR(c *gin.Context) {
	code, ok := pathCode(c)
	if !ok {
		return
	}
	dataURL, err := h.svc.Artifact(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, "render qr", err)
		return
	}
	img, err := artifact.DecodeDataURL(dataURL)
	if err != nil {
		h.writeError(c, "decode qr", err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", img)
}

// pathCode answers 404 for codes that could never have been issued.
func pathCode(c *gin.Context) (string, bool) {
	code := c.Param("code")
	if !attendance.ValidCode(code) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Attendance record not found"})
		return "", false
	}
	return code, true
}

func (h *Handler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Attendance record not found"})
	case errors.Is(err, attendance.ErrAlreadyCheckedOut):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Attendance record already checked out"})
	case errors.Is(err, attendance.ErrInvalidExtra):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, attendance.ErrStorageUnavailable):
		h.logError(c, op, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Service Unavailable"})
	default:
		h.logError(c, op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal Server Error"})
	}
}

func (h *Handler) logError(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	h.log.WithFields(logrus.Fields{
		"request_id": httpmiddleware.GetRequestID(c),
		"op":         op,
	}).WithError(err).Error("request failed")
}

// readExtra decodes the request body into caller-supplied fields. An empty body
// yields no fields; JSON bodies must be objects.
func readExtra(c *gin.Context) (map[string]any, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	switch c.ContentType() {
	case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, errors.New("invalid form body")
		}
		extra := make(map[string]any, len(c.Request.PostForm))
		for k, vs := range c.Request.PostForm {
			if len(vs) == 1 {
				extra[k] = vs[0]
				continue
			}
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			extra[k] = list
		}
		return extra, nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.New("request body too large or unreadable")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var extra map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&extra); err != nil {
		if strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
			return nil, errors.New("invalid JSON body")
		}
		return nil, errors.New("body must be a JSON object")
	}
	if extra == nil {
		return map[string]any{}, nil
	}
	return extra, nil
}
