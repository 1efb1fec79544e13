package complaint

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
	"github.com/hospadmin/hospadmin/internal/platform/blobstore"
	"github.com/hospadmin/hospadmin/internal/platform/httpapi"
	"github.com/hospadmin/hospadmin/internal/platform/reporting"
)

const attachmentField = "attachment_path"

type Handler struct {
	svc   *Service
	blobs blobstore.Store
}

func NewHandler(svc *Service, blobs blobstore.Store) *Handler {
	return &Handler{svc: svc, blobs: blobs}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/getComplaint", h.List)
	g.GET("/getComplaint/:complaint_id", h.Get)
	g.POST("/postComplaint", h.Create)
	g.PUT("/updateComplaint/:complaint_id", h.Update)
	g.DELETE("/deleteComplaint/:complaint_id", h.Delete)
	g.GET("/export", h.Export)
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return httpapi.List(c, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpapi.ParseID(c, "complaint_id")
	if err != nil {
		return err
	}
	item, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "", item)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := httpapi.Bind(c, &req); err != nil {
		return err
	}
	cmd, err := req.Validate()
	if err != nil {
		return err
	}
	if cmd.AttachmentPath, err = h.saveAttachment(c); err != nil {
		return err
	}
	created, err := h.svc.Create(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusCreated, "Complaint submitted successfully", created)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := httpapi.ParseID(c, "complaint_id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := httpapi.Bind(c, &req); err != nil {
		return err
	}
	cmd, err := req.Validate(id)
	if err != nil {
		return err
	}
	if cmd.AttachmentPath, err = h.saveAttachment(c); err != nil {
		return err
	}
	updated, err := h.svc.Update(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "Complaint updated successfully", updated)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := httpapi.ParseID(c, "complaint_id")
	if err != nil {
		return err
	}
	deleted, err := h.svc.Delete(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "Complaint deleted successfully", deleted)
}

var exportHeaders = []string{
	"Complaint ID", "Patient ID", "Patient Name", "Contact Number", "Description",
	"Priority", "Status", "Attachment", "Submitted At",
}

var exportWidths = []float64{14, 12, 24, 16, 48, 10, 14, 40, 22}

func (h *Handler) Export(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	rows := make([][]interface{}, 0, len(items))
	for _, it := range items {
		rows = append(rows, []interface{}{
			it.ID, it.PatientID, it.PatientName, it.ContactNumber, it.Description,
			string(it.Priority), string(it.Status), it.AttachmentPath, it.ComplaintDateTime,
		})
	}
	data, err := reporting.Workbook(reporting.Sheet{
		Name:    "Complaints",
		Headers: exportHeaders,
		Widths:  exportWidths,
		Rows:    rows,
	})
	if err != nil {
		return apperr.Internal(err)
	}
	return reporting.Attachment(c, "complaints", time.Now(), data)
}

// saveAttachment stores the optional file part of a multipart request and
// returns its path. JSON requests and forms without a file yield nil.
func (h *Handler) saveAttachment(c echo.Context) (*string, error) {
	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return nil, nil
	}
	fh, err := c.FormFile(attachmentField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Validation("Invalid attachment")
	}
	att, err := blobstore.SaveFormFile(c.Request().Context(), h.blobs, fh)
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return nil, apperr.Validation("Attachment exceeds the maximum allowed size")
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return nil, apperr.Validation("Attachment type is not allowed")
	case errors.Is(err, blobstore.ErrMissingFileName):
		return nil, apperr.Validation("Attachment file name is required")
	case err != nil:
		return nil, apperr.Internal(err)
	}
	return &att.Path, nil
}
