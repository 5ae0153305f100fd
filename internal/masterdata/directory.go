// Package masterdata resolves projects, products and warehouses for the
// stock core. The entities themselves live in the subpackages.
package masterdata

import (
	"context"

	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/projects"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-stock/internal/stock"
)

// Directory implements stock.Directory on top of the master data repositories.
type Directory struct {
	projects   projects.Repository
	products   products.Repository
	warehouses warehouses.Repository
}

var _ stock.Directory = (*Directory)(nil)

// NewDirectory builds Directory.
func NewDirectory(projectRepo projects.Repository, productRepo products.Repository, warehouseRepo warehouses.Repository) *Directory {
	return &Directory{projects: projectRepo, products: productRepo, warehouses: warehouseRepo}
}

func (d *Directory) ProjectExists(ctx context.Context, id int64) (bool, error) {
	return d.projects.Exists(ctx, id)
}

func (d *Directory) Product(ctx context.Context, id int64) (stock.ProductRef, error) {
	p, err := d.products.Get(ctx, id)
	if err != nil {
		return stock.ProductRef{}, err
	}
	return p.Ref(), nil
}

func (d *Directory) Warehouse(ctx context.Context, id int64) (stock.WarehouseRef, error) {
	w, err := d.warehouses.Get(ctx, id)
	if err != nil {
		return stock.WarehouseRef{}, err
	}
	return w.Ref(), nil
}
