// Package fieldservice records technician visits and the vehicle stock they consume.
package fieldservice

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status represents the lifecycle of a service form.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanModify reports whether details and materials may still change.
func (s Status) CanModify() bool {
	return s == StatusOpen || s == StatusInProgress
}

// ParseStatus normalises raw into a Status; empty input yields "".
func ParseStatus(raw string) (Status, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	s := Status(raw)
	if !s.IsValid() {
		return "", shared.InvalidRequestf("unknown service form status %q", raw)
	}
	return s, nil
}

// ErrNumberTaken signals that another transaction committed the same form number.
var ErrNumberTaken = errors.New("fieldservice: form number taken")

// Form is a technician visit for a project.
type Form struct {
	ID                 int64      `json:"id"`
	Number             string     `json:"form_number"`
	ProjectID          int64      `json:"project_id"`
	VehicleWarehouseID int64      `json:"vehicle_warehouse_id,omitempty"`
	TechnicianID       int64      `json:"technician_id"`
	Status             Status     `json:"status"`
	WorkDescription    string     `json:"work_description"`
	WorkPerformed      string     `json:"work_performed"`
	Notes              string     `json:"notes"`
	CustomerName       string     `json:"customer_name"`
	CustomerSigned     bool       `json:"customer_signed"`
	SignatureURL       string     `json:"signature_url"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Items              []Item     `json:"items"`
}

// Item is one material line used during the visit.
type Item struct {
	ID                  int64           `json:"id"`
	ServiceFormID       int64           `json:"service_form_id"`
	ProductID           int64           `json:"product_id"`
	Quantity            decimal.Decimal `json:"quantity"`
	DeliveredToCustomer bool            `json:"delivered_to_customer"`
	Notes               string          `json:"notes"`
}

// CreateInput describes a new OPEN form.
type CreateInput struct {
	ProjectID          int64
	VehicleWarehouseID int64
	TechnicianID       int64
	WorkDescription    string
	Notes              string
	ActorID            int64
}

// UpdateInput changes editable details; nil fields are left as they are.
type UpdateInput struct {
	WorkDescription *string
	Notes           *string
	TechnicianID    *int64
	ActorID         int64
}

// MaterialInput adds one material line.
type MaterialInput struct {
	ProductID           int64
	Quantity            decimal.Decimal
	DeliveredToCustomer bool
	Notes               string
	ActorID             int64
}

// CompleteInput closes the visit.
type CompleteInput struct {
	WorkPerformed  string
	CustomerName   string
	CustomerSigned bool
	SignatureURL   string
	ActorID        int64
}

// ListFilter narrows List results.
type ListFilter struct {
	ProjectID          int64
	VehicleWarehouseID int64
	Status             Status
	Page               shared.PageRequest
}
