package complaint

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hospadmin/hospadmin/internal/platform/apperr"
)

// Priority is the triage level of a complaint.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

var priorities = map[string]Priority{
	"Low": PriorityLow, "Medium": PriorityMedium, "High": PriorityHigh,
}

func ParsePriority(s string) (Priority, error) {
	p, ok := priorities[strings.TrimSpace(s)]
	if !ok {
		return "", apperr.Validation("Invalid priority: %q", s)
	}
	return p, nil
}

// Status is the handling state of a complaint.
type Status string

const (
	StatusNew        Status = "New"
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
	StatusClosed     Status = "Closed"
)

var statuses = map[string]Status{
	"New": StatusNew, "Open": StatusOpen, "In Progress": StatusInProgress,
	"Resolved": StatusResolved, "Closed": StatusClosed,
}

func ParseStatus(s string) (Status, error) {
	st, ok := statuses[strings.TrimSpace(s)]
	if !ok {
		return "", apperr.Validation("Invalid status: %q", s)
	}
	return st, nil
}

// Complaint is a patient_complaint row.
type Complaint struct {
	ID                int64     `db:"complaint_id" json:"complaint_id"`
	PatientID         int64     `db:"patient_id" json:"patient_id"`
	PatientName       string    `db:"patient_name" json:"patient_name"`
	ContactNumber     string    `db:"contact_number" json:"contact_number"`
	Description       string    `db:"complaint_description" json:"complaint_description"`
	Priority          Priority  `db:"priority" json:"priority"`
	Status            Status    `db:"status" json:"status"`
	AttachmentPath    *string   `db:"attachment_path" json:"attachment_path"`
	ComplaintDateTime time.Time `db:"complaint_datetime" json:"complaint_datetime"`
}

var ErrNotFound = apperr.NotFound("Complaint not found")

var contactPattern = regexp.MustCompile(`^[0-9]{10}$`)

// MaxPatientNameLen is the width of complaints.patient_name in characters.
const MaxPatientNameLen = 255

func checkPatientName(name string) error {
	if utf8.RuneCountInString(name) > MaxPatientNameLen {
		return apperr.Validation("patient_name must be at most %d characters", MaxPatientNameLen)
	}
	return nil
}

// CreateComplaint is a validated create command.
type CreateComplaint struct {
	PatientID      int64
	PatientName    string
	ContactNumber  string
	Description    string
	Priority       Priority
	Status         Status
	AttachmentPath *string
}

func (c *CreateComplaint) validate() error {
	if c.PatientID <= 0 || c.PatientName == "" || c.ContactNumber == "" || c.Description == "" ||
		c.Priority == "" || c.Status == "" {
		return apperr.Validation("Required fields are missing")
	}
	if !contactPattern.MatchString(c.ContactNumber) {
		return apperr.Validation("contact_number must be exactly 10 digits")
	}
	return checkPatientName(c.PatientName)
}

// UpdateComplaint is a validated partial update. Nil fields keep their
// stored value.
type UpdateComplaint struct {
	ID             int64
	PatientID      *int64
	PatientName    *string
	ContactNumber  *string
	Description    *string
	Priority       *Priority
	Status         *Status
	AttachmentPath *string
}

func (u *UpdateComplaint) validate() error {
	if u.ID <= 0 {
		return apperr.Validation("Invalid complaint_id")
	}
	if u.PatientID != nil && *u.PatientID <= 0 {
		return apperr.Validation("patient_id must be a positive integer")
	}
	if u.ContactNumber != nil && !contactPattern.MatchString(*u.ContactNumber) {
		return apperr.Validation("contact_number must be exactly 10 digits")
	}
	if u.PatientName != nil {
		return checkPatientName(*u.PatientName)
	}
	return nil
}

// CreateRequest is the body of POST /complaints/postComplaint, sent either as
// multipart form fields or as JSON. The attachment arrives as a file part and
// is never bound from here.
type CreateRequest struct {
	PatientID     json.Number `json:"patient_id" form:"patient_id"`
	PatientName   string      `json:"patient_name" form:"patient_name"`
	ContactNumber string      `json:"contact_number" form:"contact_number"`
	Description   string      `json:"complaint_description" form:"complaint_description"`
	Priority      string      `json:"priority" form:"priority"`
	Status        string      `json:"status" form:"status"`
}

// Validate turns the request into a command. Presence is checked before
// format so a partially filled form reports the missing fields.
func (r *CreateRequest) Validate() (*CreateComplaint, error) {
	if strings.TrimSpace(r.PatientID.String()) == "" || blank(r.PatientName) || blank(r.ContactNumber) ||
		blank(r.Description) || blank(r.Priority) || blank(r.Status) {
		return nil, apperr.Validation("Required fields are missing")
	}
	pid, err := parseID(r.PatientID, "patient_id")
	if err != nil {
		return nil, err
	}
	priority, err := ParsePriority(r.Priority)
	if err != nil {
		return nil, err
	}
	status, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	cmd := &CreateComplaint{
		PatientID:     pid,
		PatientName:   strings.TrimSpace(r.PatientName),
		ContactNumber: strings.TrimSpace(r.ContactNumber),
		Description:   strings.TrimSpace(r.Description),
		Priority:      priority,
		Status:        status,
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// UpdateRequest is the body of PUT /complaints/updateComplaint/:complaint_id.
// Empty fields are treated as omitted.
type UpdateRequest struct {
	PatientID     json.Number `json:"patient_id" form:"patient_id"`
	PatientName   string      `json:"patient_name" form:"patient_name"`
	ContactNumber string      `json:"contact_number" form:"contact_number"`
	Description   string      `json:"complaint_description" form:"complaint_description"`
	Priority      string      `json:"priority" form:"priority"`
	Status        string      `json:"status" form:"status"`
}

func (r *UpdateRequest) Validate(id int64) (*UpdateComplaint, error) {
	cmd := &UpdateComplaint{
		ID:            id,
		PatientName:   optional(r.PatientName),
		ContactNumber: optional(r.ContactNumber),
		Description:   optional(r.Description),
	}
	if !blank(r.PatientID.String()) {
		pid, err := parseID(r.PatientID, "patient_id")
		if err != nil {
			return nil, err
		}
		cmd.PatientID = &pid
	}
	if !blank(r.Priority) {
		p, err := ParsePriority(r.Priority)
		if err != nil {
			return nil, err
		}
		cmd.Priority = &p
	}
	if !blank(r.Status) {
		st, err := ParseStatus(r.Status)
		if err != nil {
			return nil, err
		}
		cmd.Status = &st
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseID(n json.Number, field string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(n.String()), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.Validation("%s must be a positive integer", field)
	}
	return v, nil
}
