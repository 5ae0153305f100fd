// Package projects exposes the project lookups the stock core depends on.
// Projects are owned by the surrounding ERP; Create exists for seeding.
package projects

import "time"

// Project is the job that stock movements and documents are booked against.
type Project struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
