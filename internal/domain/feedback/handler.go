package feedback

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
	"github.com/hospadmin/hospadmin/internal/platform/httpapi"
	"github.com/hospadmin/hospadmin/internal/platform/reporting"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/getFeedback", h.List)
	g.GET("/getFeedback/:feedback_id", h.Get)
	g.POST("/postFeedback", h.Create)
	g.PUT("/updateFeedback/:feedback_id", h.Update)
	g.DELETE("/deleteFeedback/:feedback_id", h.Delete)
	g.GET("/summary", h.Summary)
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
	id, err := httpapi.ParseID(c, "feedback_id")
	if err != nil {
		return err
	}
	item, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "", item)
}

func (h *Handler) Summary(c echo.Context) error {
	sum, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "", sum)
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
	created, err := h.svc.Create(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, httpapi.Envelope{
		Success:    true,
		Message:    "Feedback submitted successfully",
		FeedbackID: &created.ID,
		Data:       created,
	})
}

func (h *Handler) Update(c echo.Context) error {
	id, err := httpapi.ParseID(c, "feedback_id")
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
	updated, err := h.svc.Update(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "Feedback updated successfully", updated)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := httpapi.ParseID(c, "feedback_id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return httpapi.OK(c, http.StatusOK, "Feedback deleted successfully", nil)
}

// Export writes all feedback as a workbook with one sheet of parents and
// one of module ratings.
func (h *Handler) Export(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	parents := make([][]interface{}, 0, len(items))
	var modules [][]interface{}
	for _, f := range items {
		parents = append(parents, []interface{}{
			f.ID, f.PatientID, f.PatientName, f.AdmissionID, string(f.ServiceType), f.Rating,
			f.Comments, string(f.Mode), consentLabel(f.ConsentFlag), f.CreatedDate,
		})
		for _, m := range f.ModuleRatings {
			modules = append(modules, []interface{}{m.FeedbackID, m.ID, m.ModuleName, m.Rating, m.Comment})
		}
	}
	data, err := reporting.Workbook(
		reporting.Sheet{
			Name: "Feedback",
			Headers: []string{
				"Feedback ID", "Patient ID", "Patient Name", "Admission ID", "Service",
				"Rating", "Comments", "Mode", "Consent", "Created",
			},
			Widths: []float64{12, 12, 24, 14, 12, 8, 48, 10, 10, 22},
			Rows:   parents,
		},
		reporting.Sheet{
			Name:    "Module Ratings",
			Headers: []string{"Feedback ID", "Module Rating ID", "Module", "Rating", "Comment"},
			Widths:  []float64{12, 16, 24, 8, 48},
			Rows:    modules,
		},
	)
	if err != nil {
		return apperr.Internal(err)
	}
	return reporting.Attachment(c, "feedback", time.Now(), data)
}

func consentLabel(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
