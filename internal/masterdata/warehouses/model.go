package warehouses

import (
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// Warehouse represents a stock location: a fixed site or a technician's vehicle.
type Warehouse struct {
	ID           int64               `json:"id"`
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Type         stock.WarehouseType `json:"warehouse_type"`
	Address      string              `json:"address"`
	VehiclePlate string              `json:"vehicle_plate,omitempty"`
	DriverID     int64               `json:"driver_id,omitempty"`
	IsActive     bool                `json:"is_active"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Ref projects the warehouse onto the ledger's view of it.
func (w Warehouse) Ref() stock.WarehouseRef {
	return stock.WarehouseRef{ID: w.ID, Code: w.Code, Name: w.Name, Type: w.Type, IsActive: w.IsActive}
}
