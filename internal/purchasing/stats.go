package purchasing

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Dimension selects how statistics are grouped.
type Dimension string

const (
	DimensionStatus  Dimension = "byStatus"
	DimensionBranch  Dimension = "byBranch"
	DimensionProduct Dimension = "byProduct"
)

// ParseDimension validates a dimension string; empty defaults to byStatus.
func ParseDimension(raw string) (Dimension, error) {
	switch Dimension(raw) {
	case "":
		return DimensionStatus, nil
	case DimensionStatus, DimensionBranch, DimensionProduct:
		return Dimension(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown dimension %q", ErrValidation, raw)
	}
}

// StatsFilter narrows the order snapshot statistics are computed over.
type StatsFilter struct {
	BranchID *int64
	Status   *Status
	From     *time.Time
	To       *time.Time
}

// Match reports whether the order falls inside the filter. To is exclusive.
func (f StatsFilter) Match(order PurchaseOrder) bool {
	if f.BranchID != nil && order.BranchID != *f.BranchID {
		return false
	}
	if f.Status != nil && order.Status != *f.Status {
		return false
	}
	if f.From != nil && order.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !order.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// CacheKey renders the filter as cache key segments.
func (f StatsFilter) CacheKey() []string {
	parts := []string{"all", "all", "-", "-"}
	if f.BranchID != nil {
		parts[0] = strconv.FormatInt(*f.BranchID, 10)
	}
	if f.Status != nil {
		parts[1] = string(*f.Status)
	}
	if f.From != nil {
		parts[2] = strconv.FormatInt(f.From.UTC().Unix(), 10)
	}
	if f.To != nil {
		parts[3] = strconv.FormatInt(f.To.UTC().Unix(), 10)
	}
	return parts
}

// StatsPoint is one aggregate bucket. Provisional points are computed from requested quantities.
type StatsPoint struct {
	Key         string          `json:"key"`
	Label       string          `json:"label"`
	Provisional bool            `json:"provisional"`
	Count       int64           `json:"count"`
	Quantity    int64           `json:"quantity"`
	TotalPrice  decimal.Decimal `json:"total_price"`

	rank int64
}

// Stats is the aggregate of an order snapshot along one dimension.
type Stats struct {
	Dimension  Dimension       `json:"dimension"`
	Points     []StatsPoint    `json:"points"`
	OrderCount int64           `json:"order_count"`
	Quantity   int64           `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type pointKey struct {
	key         string
	provisional bool
}

// Aggregate groups orders along dim. It has no side effects and works on any subset.
func Aggregate(orders []PurchaseOrder, dim Dimension) (Stats, error) {
	if _, err := ParseDimension(string(dim)); err != nil || dim == "" {
		return Stats{}, fmt.Errorf("%w: unknown dimension %q", ErrValidation, dim)
	}
	stats := Stats{Dimension: dim, Points: []StatsPoint{}, TotalPrice: decimal.Zero}
	buckets := make(map[pointKey]*StatsPoint)
	add := func(key, label string, rank int64, provisional bool, qty int64, price decimal.Decimal) {
		k := pointKey{key: key, provisional: provisional}
		p, ok := buckets[k]
		if !ok {
			p = &StatsPoint{Key: key, Label: label, Provisional: provisional, TotalPrice: decimal.Zero, rank: rank}
			buckets[k] = p
		}
		p.Count++
		p.Quantity += qty
		p.TotalPrice = p.TotalPrice.Add(price)
	}

	for _, order := range orders {
		stats.OrderCount++
		stats.Quantity += order.TotalQuantity()
		stats.TotalPrice = stats.TotalPrice.Add(order.TotalPrice)
		switch dim {
		case DimensionStatus:
			add(string(order.Status), order.Status.Label(), statusRank(order.Status), order.Provisional(), order.TotalQuantity(), order.TotalPrice)
		case DimensionBranch:
			key := strconv.FormatInt(order.BranchID, 10)
			add(key, key, order.BranchID, order.Provisional(), order.TotalQuantity(), order.TotalPrice)
		case DimensionProduct:
			for _, line := range order.Lines {
				add(strconv.FormatInt(line.ProductID, 10), line.ProductName, line.ProductID, !line.HasApproval(), line.EffectiveQuantity(), line.Subtotal)
			}
		}
	}

	for _, p := range buckets {
		stats.Points = append(stats.Points, *p)
	}
	sort.Slice(stats.Points, func(i, j int) bool {
		a, b := stats.Points[i], stats.Points[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return !a.Provisional && b.Provisional
	})
	return stats, nil
}

func statusRank(s Status) int64 {
	for i, status := range AllStatuses {
		if status == s {
			return int64(i)
		}
	}
	return int64(len(AllStatuses))
}
