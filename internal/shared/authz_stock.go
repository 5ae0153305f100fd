package shared

// Stock ledger permissions declared for RBAC.
const (
	// Ledger permissions
	PermStockView     = "stock.view"
	PermStockMovement = "stock.movement.post"
	PermStockTransfer = "stock.transfer"

	// Reservation permissions
	PermReservationView    = "stock.reservation.view"
	PermReservationCreate  = "stock.reservation.create"
	PermReservationCancel  = "stock.reservation.cancel"
	PermReservationFulfill = "stock.reservation.fulfill"

	// Delivery note permissions
	PermDeliveryNoteView    = "delivery.note.view"
	PermDeliveryNoteCreate  = "delivery.note.create"
	PermDeliveryNoteEdit    = "delivery.note.edit"
	PermDeliveryNoteShip    = "delivery.note.ship"
	PermDeliveryNoteDeliver = "delivery.note.deliver"

	// Service form permissions
	PermServiceFormView     = "service.form.view"
	PermServiceFormEdit     = "service.form.edit"
	PermServiceFormComplete = "service.form.complete"

	// Master data permissions
	PermWarehouseView   = "masterdata.warehouse.view"
	PermWarehouseManage = "masterdata.warehouse.manage"
	PermProductView     = "masterdata.product.view"
	PermProductManage   = "masterdata.product.manage"
	PermBOMManage       = "masterdata.bom.manage"
)

// StockScopes lists read and write permissions on the ledger itself.
func StockScopes() []string {
	return []string{
		PermStockView,
		PermStockMovement,
		PermStockTransfer,
		PermReservationView,
		PermReservationCreate,
		PermReservationCancel,
		PermReservationFulfill,
	}
}

// DocumentScopes lists permissions for the delivery note and service form workflows.
func DocumentScopes() []string {
	return []string{
		PermDeliveryNoteView,
		PermDeliveryNoteCreate,
		PermDeliveryNoteEdit,
		PermDeliveryNoteShip,
		PermDeliveryNoteDeliver,
		PermServiceFormView,
		PermServiceFormEdit,
		PermServiceFormComplete,
	}
}

// MasterDataScopes lists permissions for warehouses, products and BOMs.
func MasterDataScopes() []string {
	return []string{
		PermWarehouseView,
		PermWarehouseManage,
		PermProductView,
		PermProductManage,
		PermBOMManage,
	}
}

// ViewScopes lists read-only permissions across the stock core.
func ViewScopes() []string {
	return []string{
		PermStockView,
		PermReservationView,
		PermDeliveryNoteView,
		PermServiceFormView,
		PermWarehouseView,
		PermProductView,
	}
}
