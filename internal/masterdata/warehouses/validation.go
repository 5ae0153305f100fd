package warehouses

import (
	"strings"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

func (s *Service) validate(w Warehouse) error {
	if strings.TrimSpace(w.Code) == "" {
		return shared.InvalidRequestf("warehouse code is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return shared.InvalidRequestf("warehouse name is required")
	}
	switch w.Type {
	case stock.WarehousePhysical:
	case stock.WarehouseVirtual:
		if strings.TrimSpace(w.VehiclePlate) == "" {
			return shared.InvalidRequestf("vehicle plate is required for VIRTUAL warehouses")
		}
	default:
		return shared.InvalidRequestf("warehouse type %q must be PHYSICAL or VIRTUAL", w.Type)
	}
	if w.DriverID < 0 {
		return shared.InvalidRequestf("driver id must be positive")
	}
	return nil
}

func normalize(w Warehouse) Warehouse {
	w.Code = strings.ToUpper(strings.TrimSpace(w.Code))
	w.Name = strings.TrimSpace(w.Name)
	w.Address = strings.TrimSpace(w.Address)
	w.VehiclePlate = strings.ToUpper(strings.TrimSpace(w.VehiclePlate))
	w.Type = stock.WarehouseType(strings.ToUpper(strings.TrimSpace(string(w.Type))))
	return w
}
