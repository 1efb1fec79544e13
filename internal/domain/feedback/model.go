package feedback

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
)

// ServiceType is the hospital service the feedback is about.
type ServiceType string

const (
	ServiceOPD        ServiceType = "OPD"
	ServiceIPD        ServiceType = "IPD"
	ServiceDiagnostic ServiceType = "Diagnostic"
	ServicePharmacy   ServiceType = "Pharmacy"
)

var serviceTypes = map[string]ServiceType{
	"OPD": ServiceOPD, "IPD": ServiceIPD, "Diagnostic": ServiceDiagnostic, "Pharmacy": ServicePharmacy,
}

func ParseServiceType(s string) (ServiceType, error) {
	st, ok := serviceTypes[strings.TrimSpace(s)]
	if !ok {
		return "", apperr.Validation("Invalid service_type: %q", s)
	}
	return st, nil
}

// Mode is how the feedback was collected.
type Mode string

const (
	ModeOnline  Mode = "Online"
	ModeOffline Mode = "Offline"
	ModeKiosk   Mode = "Kiosk"
	ModeApp     Mode = "App"
)

var modes = map[string]Mode{
	"Online": ModeOnline, "Offline": ModeOffline, "Kiosk": ModeKiosk, "App": ModeApp,
}

func ParseMode(s string) (Mode, error) {
	m, ok := modes[strings.TrimSpace(s)]
	if !ok {
		return "", apperr.Validation("Invalid feedback_mode: %q", s)
	}
	return m, nil
}

const (
	MinRating = 1
	MaxRating = 5

	// Column widths of patient_feedback.patient_name and
	// feedback_module_ratings.module_name, in characters.
	MaxPatientNameLen = 255
	MaxModuleNameLen  = 128
)

// Feedback is a patient_feedback row together with its module ratings.
type Feedback struct {
	ID            int64          `db:"feedback_id" json:"feedback_id"`
	PatientID     int64          `db:"patient_id" json:"patient_id"`
	PatientName   string         `db:"patient_name" json:"patient_name"`
	AdmissionID   *int64         `db:"admission_id" json:"admission_id"`
	ServiceType   ServiceType    `db:"service_type" json:"service_type"`
	Rating        int            `db:"rating" json:"rating"`
	Comments      *string        `db:"feedback_comments" json:"feedback_comments"`
	Mode          Mode           `db:"feedback_mode" json:"feedback_mode"`
	ConsentFlag   bool           `db:"consent_flag" json:"consent_flag"`
	CreatedDate   time.Time      `db:"created_date" json:"created_date"`
	ModuleRatings []ModuleRating `json:"module_ratings"`
}

// ModuleRating is a feedback_module_ratings row. It belongs to exactly one
// feedback and is replaced as part of a whole set.
type ModuleRating struct {
	ID         int64   `db:"module_rating_id" json:"module_rating_id"`
	FeedbackID int64   `db:"feedback_id" json:"feedback_id"`
	ModuleName string  `db:"module_name" json:"module_name"`
	Rating     int     `db:"rating" json:"rating"`
	Comment    *string `db:"comment" json:"comment"`
}

// ModuleSummary is the average rating of one module across all feedback.
type ModuleSummary struct {
	ModuleName    string  `json:"module_name"`
	AverageRating float64 `json:"average_rating"`
	Count         int64   `json:"count"`
}

// Summary aggregates ratings over all stored feedback.
type Summary struct {
	TotalFeedback int64           `json:"total_feedback"`
	AverageRating float64         `json:"average_rating"`
	Modules       []ModuleSummary `json:"modules"`
}

var ErrNotFound = apperr.NotFound("Feedback not found")

// NewModuleRating is one entry of a module ratings set to be written.
type NewModuleRating struct {
	ModuleName string
	Rating     int
	Comment    *string
}

// CreateFeedback is a validated create command.
type CreateFeedback struct {
	PatientID     int64
	PatientName   string
	AdmissionID   *int64
	ServiceType   ServiceType
	Rating        int
	Comments      *string
	Mode          Mode
	ConsentFlag   bool
	ModuleRatings []NewModuleRating
}

func (c *CreateFeedback) validate() error {
	if c.PatientID <= 0 || c.PatientName == "" || c.ServiceType == "" || c.Rating == 0 || c.Mode == "" {
		return apperr.Validation("Required fields are missing")
	}
	if err := checkPatientName(c.PatientName); err != nil {
		return err
	}
	if err := checkRating(c.Rating); err != nil {
		return err
	}
	if len(c.ModuleRatings) == 0 {
		return apperr.Validation("module_ratings must contain at least one entry")
	}
	return checkModules(c.ModuleRatings)
}

// UpdateFeedback is a validated partial update. Nil fields keep their stored
// value; a nil ModuleRatings leaves the children untouched, a non-nil one
// replaces them.
type UpdateFeedback struct {
	ID            int64
	PatientName   *string
	AdmissionID   *int64
	ServiceType   *ServiceType
	Rating        *int
	Comments      *string
	Mode          *Mode
	ConsentFlag   *bool
	ModuleRatings []NewModuleRating
}

func (u *UpdateFeedback) validate() error {
	if u.ID <= 0 {
		return apperr.Validation("Invalid feedback_id")
	}
	if u.PatientName != nil {
		if err := checkPatientName(*u.PatientName); err != nil {
			return err
		}
	}
	if u.Rating != nil {
		if err := checkRating(*u.Rating); err != nil {
			return err
		}
	}
	if u.ModuleRatings != nil {
		if len(u.ModuleRatings) == 0 {
			return apperr.Validation("module_ratings must contain at least one entry")
		}
		return checkModules(u.ModuleRatings)
	}
	return nil
}

func checkRating(r int) error {
	if r < MinRating || r > MaxRating {
		return apperr.Validation("Overall rating must be between 1 and 5")
	}
	return nil
}

func checkPatientName(name string) error {
	if utf8.RuneCountInString(name) > MaxPatientNameLen {
		return apperr.Validation("patient_name must be at most %d characters", MaxPatientNameLen)
	}
	return nil
}

func checkModules(ms []NewModuleRating) error {
	for _, m := range ms {
		if strings.TrimSpace(m.ModuleName) == "" || m.Rating < MinRating || m.Rating > MaxRating {
			return apperr.Validation("Invalid module rating data")
		}
		if utf8.RuneCountInString(m.ModuleName) > MaxModuleNameLen {
			return apperr.Validation("module_name must be at most %d characters", MaxModuleNameLen)
		}
	}
	return nil
}

// Consent accepts "Yes"/"No" tokens as sent by the feedback form, as well
// as JSON booleans and "true"/"false".
type Consent struct {
	Set   bool
	Value bool
}

func (c *Consent) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = Consent{}
		return nil
	}
	if s == "true" || s == "false" {
		*c = Consent{Set: true, Value: s == "true"}
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return apperr.Validation("Invalid consent_flag")
	}
	return c.UnmarshalParam(str)
}

// UnmarshalParam lets echo bind the flag from form fields.
func (c *Consent) UnmarshalParam(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		*c = Consent{}
	case "yes", "true":
		*c = Consent{Set: true, Value: true}
	case "no", "false":
		*c = Consent{Set: true, Value: false}
	default:
		return apperr.Validation("Invalid consent_flag: %q", s)
	}
	return nil
}

// ModuleRatingRequest is one entry of module_ratings in a request body.
type ModuleRatingRequest struct {
	ModuleName string      `json:"module_name"`
	Rating     json.Number `json:"rating"`
	Comment    *string     `json:"comment"`
}

// CreateRequest is the body of POST /feedback/postFeedback.
type CreateRequest struct {
	PatientID     json.Number           `json:"patient_id"`
	PatientName   string                `json:"patient_name"`
	AdmissionID   json.Number           `json:"admission_id"`
	ServiceType   string                `json:"service_type"`
	Rating        json.Number           `json:"rating"`
	Comments      *string               `json:"feedback_comments"`
	Mode          string                `json:"feedback_mode"`
	ConsentFlag   Consent               `json:"consent_flag"`
	ModuleRatings []ModuleRatingRequest `json:"module_ratings"`
}

// Validate turns the request into a command. Every check runs here, before
// any store access.
func (r *CreateRequest) Validate() (*CreateFeedback, error) {
	if blank(r.PatientID.String()) || blank(r.PatientName) || blank(r.ServiceType) ||
		blank(r.Rating.String()) || blank(r.Mode) {
		return nil, apperr.Validation("Required fields are missing")
	}
	pid, err := parseID(r.PatientID, "patient_id")
	if err != nil {
		return nil, err
	}
	admission, err := optionalID(r.AdmissionID, "admission_id")
	if err != nil {
		return nil, err
	}
	rating, err := parseRating(r.Rating)
	if err != nil {
		return nil, err
	}
	st, err := ParseServiceType(r.ServiceType)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return nil, err
	}
	modules, err := parseModules(r.ModuleRatings)
	if err != nil {
		return nil, err
	}
	cmd := &CreateFeedback{
		PatientID:     pid,
		PatientName:   strings.TrimSpace(r.PatientName),
		AdmissionID:   admission,
		ServiceType:   st,
		Rating:        rating,
		Comments:      trimmed(r.Comments),
		Mode:          mode,
		ConsentFlag:   r.ConsentFlag.Set && r.ConsentFlag.Value,
		ModuleRatings: modules,
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// UpdateRequest is the body of PUT /feedback/updateFeedback/:feedback_id.
// patient_id is not updatable. A present module_ratings array replaces the
// stored set.
type UpdateRequest struct {
	PatientName   string                 `json:"patient_name"`
	AdmissionID   json.Number            `json:"admission_id"`
	ServiceType   string                 `json:"service_type"`
	Rating        json.Number            `json:"rating"`
	Comments      *string                `json:"feedback_comments"`
	Mode          string                 `json:"feedback_mode"`
	ConsentFlag   Consent                `json:"consent_flag"`
	ModuleRatings *[]ModuleRatingRequest `json:"module_ratings"`
}

func (r *UpdateRequest) Validate(id int64) (*UpdateFeedback, error) {
	cmd := &UpdateFeedback{
		ID:          id,
		PatientName: trimmed(&r.PatientName),
		Comments:    trimmed(r.Comments),
	}
	var err error
	if cmd.AdmissionID, err = optionalID(r.AdmissionID, "admission_id"); err != nil {
		return nil, err
	}
	if !blank(r.Rating.String()) {
		rating, err := parseRating(r.Rating)
		if err != nil {
			return nil, err
		}
		cmd.Rating = &rating
	}
	if !blank(r.ServiceType) {
		st, err := ParseServiceType(r.ServiceType)
		if err != nil {
			return nil, err
		}
		cmd.ServiceType = &st
	}
	if !blank(r.Mode) {
		m, err := ParseMode(r.Mode)
		if err != nil {
			return nil, err
		}
		cmd.Mode = &m
	}
	if r.ConsentFlag.Set {
		v := r.ConsentFlag.Value
		cmd.ConsentFlag = &v
	}
	if r.ModuleRatings != nil {
		modules, err := parseModules(*r.ModuleRatings)
		if err != nil {
			return nil, err
		}
		if modules == nil {
			modules = []NewModuleRating{}
		}
		cmd.ModuleRatings = modules
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func parseModules(in []ModuleRatingRequest) ([]NewModuleRating, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]NewModuleRating, 0, len(in))
	for _, m := range in {
		r, err := strconv.Atoi(strings.TrimSpace(m.Rating.String()))
		if err != nil {
			return nil, apperr.Validation("Invalid module rating data")
		}
		out = append(out, NewModuleRating{
			ModuleName: strings.TrimSpace(m.ModuleName),
			Rating:     r,
			Comment:    trimmed(m.Comment),
		})
	}
	return out, nil
}

func parseRating(n json.Number) (int, error) {
	r, err := strconv.Atoi(strings.TrimSpace(n.String()))
	if err != nil {
		return 0, apperr.Validation("Overall rating must be between 1 and 5")
	}
	return r, checkRating(r)
}

func parseID(n json.Number, field string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(n.String()), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Validation("%s must be a positive integer", field)
	}
	return v, nil
}

func optionalID(n json.Number, field string) (*int64, error) {
	if blank(n.String()) {
		return nil, nil
	}
	v, err := parseID(n, field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
