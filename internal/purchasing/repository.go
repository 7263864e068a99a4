package purchasing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/franchise-ops/franchise-console/internal/platform/db"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: concurrent update", ErrStaleVersion)
	}
	return err
}

const orderColumns = `id, number, branch_id, status, total_price, rejection_reason, version, created_by, created_at, updated_at`

const lineColumns = `id, order_id, line_no, product_id, product_name, unit_price, requested_quantity, approved_quantity, subtotal`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Get returns an order with its lines, both read from one snapshot.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	var order PurchaseOrder
	err := db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		order, err = scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		orders := []PurchaseOrder{order}
		if err := attachLines(ctx, tx, orders); err != nil {
			return err
		}
		order = orders[0]
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

// List returns a page of orders, the filter-wide row count and price sum.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, decimal.Decimal, error) {
	dir := "ASC"
	if filter.Desc {
		dir = "DESC"
	}
	if _, ok := sortColumns[filter.Sort]; !ok {
		return nil, 0, decimal.Zero, fmt.Errorf("%w: unsupported sort %q", ErrValidation, filter.Sort)
	}
	where, args := buildWhere(filter.BranchID, filter.Status, nil, nil)

	var (
		orders []PurchaseOrder
		total  int
		sum    = decimal.Zero
	)
	err := db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_price), 0) FROM purchase_orders`+where, args...).Scan(&total, &sum)
		if err != nil {
			return err
		}
		page := shared.NewPagination(filter.Page, filter.Size, total)
		pageArgs := append(args, page.PerPage, page.Offset())
		query := fmt.Sprintf(`SELECT %s FROM purchase_orders%s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
			orderColumns, where, filter.Sort, dir, dir, len(args)+1, len(args)+2)
		orders, err = queryOrders(ctx, tx, query, pageArgs...)
		return err
	})
	if err != nil {
		return nil, 0, decimal.Zero, err
	}
	return orders, total, sum, nil
}

// Snapshot loads every order matching the statistics filter from one consistent snapshot.
func (r *Repository) Snapshot(ctx context.Context, filter StatsFilter) ([]PurchaseOrder, error) {
	where, args := buildWhere(filter.BranchID, filter.Status, filter.From, filter.To)
	var orders []PurchaseOrder
	err := db.WithReadTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		orders, err = queryOrders(ctx, tx, `SELECT `+orderColumns+` FROM purchase_orders`+where+` ORDER BY id`, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]PurchaseOrder, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var orders []PurchaseOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func attachLines(ctx context.Context, q querier, orders []PurchaseOrder) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM purchase_order_lines WHERE order_id = ANY($1) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var line OrderLine
		var orderID int64
		if err := rows.Scan(&line.ID, &orderID, &line.LineNo, &line.ProductID, &line.ProductName,
			&line.UnitPrice, &line.RequestedQuantity, &line.ApprovedQuantity, &line.Subtotal); err != nil {
			return err
		}
		if i, ok := index[orderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	return rows.Err()
}

// MarkEventSent records that an outbox event reached the delivery queue.
func (r *Repository) MarkEventSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `UPDATE order_events SET sent_at = NOW() WHERE id=$1 AND sent_at IS NULL`, id); err != nil {
		return fmt.Errorf("purchasing: mark event sent: %w", err)
	}
	return nil
}

// PendingEvents returns unsent outbox events older than grace, oldest first.
func (r *Repository) PendingEvents(ctx context.Context, grace time.Duration, limit int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT payload FROM order_events
WHERE sent_at IS NULL AND created_at < NOW() - make_interval(secs => $1)
ORDER BY created_at
LIMIT $2`, grace.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("purchasing: pending events: %w", err)
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var evt Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("purchasing: decode outbox event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// PruneEvents deletes events delivered more than olderThan ago.
func (r *Repository) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM order_events WHERE sent_at IS NOT NULL AND sent_at < NOW() - make_interval(secs => $1)`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("purchasing: prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var order PurchaseOrder
	var status string
	err := row.Scan(&order.ID, &order.Number, &order.BranchID, &status, &order.TotalPrice,
		&order.RejectionReason, &order.Version, &order.CreatedBy, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Status = Status(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func buildWhere(branchID *int64, status *Status, from, to *time.Time) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if branchID != nil {
		add("branch_id = $%d", *branchID)
	}
	if status != nil {
		add("status = $%d", string(*status))
	}
	if from != nil {
		add("created_at >= $%d", *from)
	}
	if to != nil {
		add("created_at < $%d", *to)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// InsertOrder stores the header and lines, assigning ids in place.
func (t *txRepo) InsertOrder(ctx context.Context, order *PurchaseOrder) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, branch_id, status, total_price, rejection_reason, version, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		order.Number, order.BranchID, string(order.Status), order.TotalPrice, order.RejectionReason,
		order.Version, order.CreatedBy, order.CreatedAt, order.UpdatedAt).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("purchasing: insert order: %w", err)
	}
	for i := range order.Lines {
		line := &order.Lines[i]
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (order_id, line_no, product_id, product_name, unit_price, requested_quantity, approved_quantity, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			order.ID, line.LineNo, line.ProductID, line.ProductName, line.UnitPrice,
			line.RequestedQuantity, line.ApprovedQuantity, line.Subtotal).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("purchasing: insert line %d: %w", line.LineNo, err)
		}
	}
	return nil
}

// UpdateOrder writes the header under a version guard, then the mutable line fields.
func (t *txRepo) UpdateOrder(ctx context.Context, order PurchaseOrder, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders
SET status=$3, total_price=$4, rejection_reason=$5, version=$6, updated_at=$7
WHERE id=$1 AND version=$2`,
		order.ID, expectedVersion, string(order.Status), order.TotalPrice, order.RejectionReason, order.Version, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("purchasing: update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d expected version %d", ErrStaleVersion, order.ID, expectedVersion)
	}
	for _, line := range order.Lines {
		_, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET approved_quantity=$3, subtotal=$4 WHERE id=$1 AND order_id=$2`,
			line.ID, order.ID, line.ApprovedQuantity, line.Subtotal)
		if err != nil {
			return fmt.Errorf("purchasing: update line %d: %w", line.ID, err)
		}
	}
	return nil
}

// InsertEvent stores evt in the outbox alongside the write that produced it.
func (t *txRepo) InsertEvent(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("purchasing: encode event: %w", err)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO order_events (id, order_id, payload) VALUES ($1, $2, $3)`, evt.ID, evt.OrderID, payload)
	if err != nil {
		return fmt.Errorf("purchasing: insert event: %w", err)
	}
	return nil
}
