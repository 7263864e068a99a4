package purchasing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/franchise-ops/franchise-console/internal/shared"
)

// JournalModule scopes purchase order entries in the transition journal.
const JournalModule = "purchasing"

var tracer = otel.Tracer("github.com/franchise-ops/franchise-console/internal/purchasing")

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, decimal.Decimal, error)
	Snapshot(ctx context.Context, filter StatsFilter) ([]PurchaseOrder, error)
	// MarkEventSent flags an outbox event as handed to the notifier.
	MarkEventSent(ctx context.Context, id uuid.UUID) error
}

// TxRepository exposes transactional persistence operations.
type TxRepository interface {
	// InsertOrder stores a new order and assigns order and line ids.
	InsertOrder(ctx context.Context, order *PurchaseOrder) error
	// UpdateOrder persists order only if the stored version equals expectedVersion.
	UpdateOrder(ctx context.Context, order PurchaseOrder, expectedVersion int64) error
	// InsertEvent stores the event of the write in the outbox.
	InsertEvent(ctx context.Context, evt Event) error
}

// JournalPort records and lists transition history.
type JournalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// StatsCache caches statistics under versioned keys.
type StatsCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error
	Bump(ctx context.Context) error
}

// IdempotencyPort guards order creation retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, module string, refID int64) error
	Lookup(ctx context.Context, key, module string) (int64, error)
	Delete(ctx context.Context, key, module string) error
}

// Observer receives transition outcomes.
type Observer interface {
	ObserveTransition(action, outcome string, elapsed time.Duration)
}

// Service exposes the purchase order operations.
type Service struct {
	repo        RepositoryPort
	intake      *IntakeValidator
	logger      *slog.Logger
	notifier    Notifier
	journal     JournalPort
	stats       StatsCache
	idempotency IdempotencyPort
	observer    Observer
	now         func() time.Time
	newNumber   func() string
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, catalog CatalogPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		intake:    NewIntakeValidator(catalog),
		logger:    logger,
		now:       time.Now,
		newNumber: func() string { return "PO-" + ulid.Make().String() },
	}
}

// SetNotifier wires event delivery.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetJournal wires the transition journal.
func (s *Service) SetJournal(j JournalPort) { s.journal = j }

// SetStatsCache wires the statistics cache.
func (s *Service) SetStatsCache(c StatsCache) { s.stats = c }

// SetIdempotency wires create-order retry protection.
func (s *Service) SetIdempotency(store IdempotencyPort) { s.idempotency = store }

// SetObserver wires transition metrics.
func (s *Service) SetObserver(o Observer) { s.observer = o }

// CreateOrderInput describes a new order request.
type CreateOrderInput struct {
	BranchID       int64
	Lines          []RequestedLine
	IdempotencyKey string
}

// CreateOrder validates the request against the branch catalog and stores a pending order.
func (s *Service) CreateOrder(ctx context.Context, actor shared.Principal, input CreateOrderInput) (PurchaseOrder, error) {
	ctx, span := tracer.Start(ctx, "purchasing.create",
		trace.WithAttributes(attribute.Int64("branch.id", input.BranchID)))
	defer span.End()
	start := time.Now()

	if !actor.Role.IsValid() || (!actor.IsHeadquarters() && actor.BranchID != input.BranchID) {
		return PurchaseOrder{}, ErrForbidden
	}
	var key string
	if raw := strings.TrimSpace(input.IdempotencyKey); raw != "" {
		key = idempotencyKey(actor, input.BranchID, raw)
	}
	if key != "" && s.idempotency != nil {
		existing, err := s.claimKey(ctx, actor, key)
		if err != nil || existing.ID != 0 {
			return existing, err
		}
	}

	order, evt, err := s.createOrder(ctx, actor, input)
	if key != "" && s.idempotency != nil {
		detached := context.WithoutCancel(ctx)
		if err != nil {
			if derr := s.idempotency.Delete(detached, key, JournalModule); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		} else if cerr := s.idempotency.Complete(detached, key, JournalModule, order.ID); cerr != nil {
			s.logger.Warn("complete idempotency key", slog.String("key", key), slog.Any("error", cerr))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.observe("create", err, time.Since(start))
		return PurchaseOrder{}, err
	}
	s.observe("create", nil, time.Since(start))
	s.afterCommit(ctx, evt, order, actor, shared.ApprovalSubmit, "")
	return order, nil
}

// idempotencyKey scopes a client key to the caller and the target branch.
func idempotencyKey(actor shared.Principal, branchID int64, key string) string {
	return fmt.Sprintf("u%d:b%d:%s", actor.UserID, branchID, key)
}

func (s *Service) claimKey(ctx context.Context, actor shared.Principal, key string) (PurchaseOrder, error) {
	ref, err := s.idempotency.Lookup(ctx, key, JournalModule)
	switch {
	case err == nil && ref != 0:
		return s.GetOrder(ctx, actor, ref)
	case err == nil:
		return PurchaseOrder{}, ErrDuplicateRequest
	case !errors.Is(err, shared.ErrIdempotencyMissing):
		return PurchaseOrder{}, fmt.Errorf("purchasing: idempotency lookup: %w", err)
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, JournalModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return PurchaseOrder{}, ErrDuplicateRequest
		}
		return PurchaseOrder{}, fmt.Errorf("purchasing: idempotency reserve: %w", err)
	}
	return PurchaseOrder{}, nil
}

func (s *Service) createOrder(ctx context.Context, actor shared.Principal, input CreateOrderInput) (PurchaseOrder, Event, error) {
	draft, err := s.intake.Validate(ctx, input.BranchID, input.Lines)
	if err != nil {
		return PurchaseOrder{}, Event{}, err
	}
	order := draft.Order(actor.UserID, s.newNumber(), s.now())
	if err := CheckInvariants(order); err != nil {
		return PurchaseOrder{}, Event{}, err
	}
	var evt Event
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		evt = NewEvent("", order, actor)
		return tx.InsertEvent(ctx, evt)
	})
	if err != nil {
		return PurchaseOrder{}, Event{}, err
	}
	return order, evt, nil
}

// GetOrder returns an order visible to the principal.
func (s *Service) GetOrder(ctx context.Context, actor shared.Principal, id int64) (PurchaseOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !actor.CanSeeBranch(order.BranchID) {
		return PurchaseOrder{}, ErrNotFound
	}
	return order, nil
}

// ListFilter narrows and orders the order listing.
type ListFilter struct {
	BranchID *int64
	Status   *Status
	Page     int
	Size     int
	Sort     string
	Desc     bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var sortColumns = map[string]struct{}{
	"created_at":  {},
	"updated_at":  {},
	"total_price": {},
	"id":          {},
}

// Normalize applies paging defaults and validates the sort column.
func (f ListFilter) Normalize() (ListFilter, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = defaultPageSize
	}
	if f.Size > maxPageSize {
		f.Size = maxPageSize
	}
	if f.Sort == "" {
		f.Sort = "created_at"
		f.Desc = true
	}
	if _, ok := sortColumns[f.Sort]; !ok {
		return f, fmt.Errorf("%w: unsupported sort %q", ErrValidation, f.Sort)
	}
	return f, nil
}

// OrderPage is one page of orders plus filter-wide totals.
type OrderPage struct {
	Items      []PurchaseOrder   `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
	TotalPrice decimal.Decimal   `json:"total_price"`
}

// ListOrders returns a page of orders within the principal's scope.
func (s *Service) ListOrders(ctx context.Context, actor shared.Principal, filter ListFilter) (OrderPage, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return OrderPage{}, err
	}
	if !actor.IsHeadquarters() {
		branchID := actor.BranchID
		filter.BranchID = &branchID
	}
	items, total, sum, err := s.repo.List(ctx, filter)
	if err != nil {
		return OrderPage{}, err
	}
	if items == nil {
		items = []PurchaseOrder{}
	}
	return OrderPage{
		Items:      items,
		Pagination: shared.NewPagination(filter.Page, filter.Size, total),
		TotalPrice: sum,
	}, nil
}

// Approve fully approves a pending order.
func (s *Service) Approve(ctx context.Context, actor shared.Principal, id, version int64) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, Command{Action: ActionApprove, Version: version})
}

// PartialApprove approves per-line quantities. Lines missing from approvals are approved at zero.
func (s *Service) PartialApprove(ctx context.Context, actor shared.Principal, id, version int64, approvals map[int64]int64) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, Command{Action: ActionPartialApprove, Version: version, Approvals: approvals})
}

// Reject rejects a pending order with a reason.
func (s *Service) Reject(ctx context.Context, actor shared.Principal, id, version int64, reason string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, Command{Action: ActionReject, Version: version, Reason: reason})
}

// Ship marks an approved order as shipped.
func (s *Service) Ship(ctx context.Context, actor shared.Principal, id, version int64) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, Command{Action: ActionShip, Version: version})
}

// Complete confirms receipt of a shipped order.
func (s *Service) Complete(ctx context.Context, actor shared.Principal, id, version int64) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, Command{Action: ActionComplete, Version: version})
}

// Cancel withdraws a pending or rejected order.
func (s *Service) Cancel(ctx context.Context, actor shared.Principal, id, version int64) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, Command{Action: ActionCancel, Version: version})
}

// Perform dispatches an action by name.
func (s *Service) Perform(ctx context.Context, actor shared.Principal, id int64, cmd Command) (PurchaseOrder, error) {
	return s.transition(ctx, actor, id, cmd)
}

func (s *Service) transition(ctx context.Context, actor shared.Principal, id int64, cmd Command) (PurchaseOrder, error) {
	ctx, span := tracer.Start(ctx, "purchasing."+string(cmd.Action),
		trace.WithAttributes(attribute.Int64("order.id", id), attribute.Int64("order.version", cmd.Version)))
	defer span.End()
	start := time.Now()

	next, evt, err := s.apply(ctx, actor, id, cmd)
	s.observe(string(cmd.Action), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("order transition refused",
			slog.Int64("order_id", id),
			slog.String("action", string(cmd.Action)),
			slog.String("class", string(Classify(err))),
			slog.Any("error", err))
		return PurchaseOrder{}, err
	}
	s.afterCommit(ctx, evt, next, actor, journalAction(cmd.Action), next.RejectionReason)
	return next, nil
}

func (s *Service) apply(ctx context.Context, actor shared.Principal, id int64, cmd Command) (PurchaseOrder, Event, error) {
	current, err := s.GetOrder(ctx, actor, id)
	if err != nil {
		return PurchaseOrder{}, Event{}, err
	}
	cmd.Actor = actor
	cmd.At = s.now()
	next, err := ApplyTransition(current, cmd)
	if err != nil {
		return PurchaseOrder{}, Event{}, err
	}
	evt := NewEvent(current.Status, next, actor)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateOrder(ctx, next, current.Version); err != nil {
			return err
		}
		return tx.InsertEvent(ctx, evt)
	})
	if err != nil {
		return PurchaseOrder{}, Event{}, err
	}
	return next, evt, nil
}

// AllowedActions lists what the principal may do with the order now.
func (s *Service) AllowedActions(ctx context.Context, actor shared.Principal, id int64) ([]Action, error) {
	order, err := s.GetOrder(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return AllowedActions(order, actor), nil
}

// History returns the transition journal of an order.
func (s *Service) History(ctx context.Context, actor shared.Principal, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.GetOrder(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.journal.List(ctx, JournalModule, shared.RefFor(JournalModule, id))
}

// GetStatistics aggregates the orders matching filter within the principal's scope.
func (s *Service) GetStatistics(ctx context.Context, actor shared.Principal, dim Dimension, filter StatsFilter) (Stats, error) {
	ctx, span := tracer.Start(ctx, "purchasing.statistics")
	defer span.End()

	if dim == "" {
		dim = DimensionStatus
	}
	if _, err := ParseDimension(string(dim)); err != nil {
		return Stats{}, err
	}
	if !actor.IsHeadquarters() {
		branchID := actor.BranchID
		filter.BranchID = &branchID
	}
	load := func(ctx context.Context) (interface{}, error) {
		orders, err := s.repo.Snapshot(ctx, filter)
		if err != nil {
			return nil, err
		}
		return Aggregate(orders, dim)
	}
	if s.stats == nil {
		value, err := load(ctx)
		if err != nil {
			return Stats{}, err
		}
		return value.(Stats), nil
	}

	parts := append([]string{"purchasing", "stats", string(dim)}, filter.CacheKey()...)
	key, err := s.stats.BuildKey(ctx, parts...)
	if err == nil {
		var stats Stats
		if err = s.stats.FetchJSON(ctx, key, &stats, load); err == nil {
			return stats, nil
		}
	}
	s.logger.Warn("statistics cache unavailable", slog.Any("error", err))
	value, err := load(ctx)
	if err != nil {
		return Stats{}, err
	}
	return value.(Stats), nil
}

// afterCommit runs the follow-up steps of a committed write. They use a context detached
// from the caller's cancellation; an event the notifier does not accept stays in the
// outbox for the relay task.
func (s *Service) afterCommit(ctx context.Context, evt Event, order PurchaseOrder, actor shared.Principal, action shared.ApprovalAction, note string) {
	ctx = context.WithoutCancel(ctx)
	prev := evt.PreviousStatus
	if s.journal != nil {
		entry := shared.ApprovalLog{
			Module:     JournalModule,
			RefID:      shared.RefFor(JournalModule, order.ID),
			ActorID:    actor.UserID,
			Action:     action,
			FromStatus: string(prev),
			ToStatus:   string(order.Status),
			Note:       note,
			At:         order.UpdatedAt,
		}
		if err := s.journal.Record(ctx, entry); err != nil {
			s.logger.Error("journal order transition", slog.Int64("order_id", order.ID), slog.Any("error", err))
		}
	}
	if s.stats != nil {
		if err := s.stats.Bump(ctx); err != nil {
			s.logger.Warn("bump statistics cache", slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, evt); err != nil {
			s.logger.Warn("enqueue order event, left for relay",
				slog.String("event_id", evt.ID.String()),
				slog.Int64("order_id", order.ID),
				slog.Any("error", err))
		} else if err := s.repo.MarkEventSent(ctx, evt.ID); err != nil {
			s.logger.Warn("mark order event sent",
				slog.String("event_id", evt.ID.String()),
				slog.Any("error", err))
		}
	}
	s.logger.Info("order committed",
		slog.Int64("order_id", order.ID),
		slog.String("from", string(prev)),
		slog.String("to", string(order.Status)),
		slog.Int64("version", order.Version),
		slog.Int64("actor_id", actor.UserID))
}

func (s *Service) observe(action string, err error, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(Classify(err))
	}
	s.observer.ObserveTransition(action, outcome, elapsed)
}

func journalAction(a Action) shared.ApprovalAction {
	switch a {
	case ActionApprove:
		return shared.ApprovalApprove
	case ActionPartialApprove:
		return shared.ApprovalPartialApprove
	case ActionReject:
		return shared.ApprovalReject
	case ActionShip:
		return shared.ApprovalShip
	case ActionComplete:
		return shared.ApprovalComplete
	case ActionCancel:
		return shared.ApprovalCancel
	default:
		return shared.ApprovalAction(strings.ToUpper(string(a)))
	}
}
