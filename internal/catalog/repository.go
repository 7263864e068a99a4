// Package catalog reads the per-branch product catalog that order intake prices against.
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/franchise-ops/franchise-console/internal/purchasing"
)

// Product is one catalog entry as a branch sees it.
type Product struct {
	ProductID int64           `json:"product_id"`
	BranchID  int64           `json:"branch_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
}

// Repository loads catalog rows from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ purchasing.CatalogPort = (*Repository)(nil)

// BranchProducts returns the active entries of branchID's catalog among productIDs.
// Products not registered to the branch are absent from the map.
func (r *Repository) BranchProducts(ctx context.Context, branchID int64, productIDs []int64) (map[int64]purchasing.CatalogItem, error) {
	items := make(map[int64]purchasing.CatalogItem, len(productIDs))
	if len(productIDs) == 0 {
		return items, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT bp.product_id, bp.branch_id, p.name, bp.unit_price
FROM branch_products bp
JOIN products p ON p.id = bp.product_id
WHERE bp.branch_id = $1 AND bp.product_id = ANY($2) AND bp.is_active`, branchID, productIDs)
	if err != nil {
		return nil, fmt.Errorf("catalog: branch products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item purchasing.CatalogItem
		if err := rows.Scan(&item.ProductID, &item.BranchID, &item.Name, &item.UnitPrice); err != nil {
			return nil, err
		}
		items[item.ProductID] = item
	}
	return items, rows.Err()
}

// ListBranch returns the full catalog of a branch ordered by product code.
func (r *Repository) ListBranch(ctx context.Context, branchID int64) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT bp.product_id, bp.branch_id, p.code, p.name, bp.unit_price, bp.is_active
FROM branch_products bp
JOIN products p ON p.id = bp.product_id
WHERE bp.branch_id = $1
ORDER BY p.code`, branchID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list branch: %w", err)
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.BranchID, &p.Code, &p.Name, &p.UnitPrice, &p.IsActive); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
