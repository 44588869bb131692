package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeengine/internal/broadcast"
	"tradeengine/internal/logger"
	"tradeengine/internal/pkg/keylock"
	"tradeengine/internal/store/journal"
)

// Store persists signals. Update must write every field of the record at once.
type Store interface {
	CreateSignal(ctx context.Context, s *Signal) error
	GetSignal(ctx context.Context, id string) (*Signal, error)
	GetSignalByOrderLinkID(ctx context.Context, orderLinkID string) (*Signal, error)
	// ListSignals filters by symbol ("" = any) and status (none = any), newest first.
	ListSignals(ctx context.Context, symbol string, statuses ...Status) ([]*Signal, error)
	UpdateSignal(ctx context.Context, s *Signal) error
}

type Options struct {
	TTL       time.Duration
	Publisher broadcast.Publisher
	Journal   journal.Recorder
	Now       func() time.Time
	// NewOrderLinkID overrides token generation in tests.
	NewOrderLinkID func() string
}

// Manager guards each signal's transitions with a per-id lock and persists
// every transition before announcing it.
type Manager struct {
	store   Store
	pub     broadcast.Publisher
	journal journal.Recorder
	now     func() time.Time
	ttl     time.Duration
	newLink func() string
	locks   *keylock.Map
}

func NewManager(store Store, opts Options) *Manager {
	m := &Manager{
		store:   store,
		pub:     opts.Publisher,
		journal: opts.Journal,
		now:     opts.Now,
		ttl:     opts.TTL,
		newLink: opts.NewOrderLinkID,
		locks:   keylock.New(),
	}
	if m.pub == nil {
		m.pub = broadcast.Nop{}
	}
	if m.journal == nil {
		m.journal = journal.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.ttl <= 0 {
		m.ttl = 15 * time.Minute
	}
	if m.newLink == nil {
		m.newLink = NewOrderLinkID
	}
	return m
}

// NewOrderLinkID returns a 35-char token accepted as a client order id by the venues.
func NewOrderLinkID() string {
	return "te-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Create validates the candidate and stores it as PENDING with a fresh orderLinkId.
func (m *Manager) Create(ctx context.Context, c Candidate) (*Signal, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	source := c.Source
	if source == "" {
		source = SourceManual
	}
	sig := &Signal{
		ID:           uuid.NewString(),
		Symbol:       c.Symbol,
		Side:         c.Side,
		EntryPrice:   c.EntryPrice,
		Quantity:     c.Quantity,
		StopLoss:     c.StopLoss,
		TakeProfit:   c.TakeProfit,
		Confidence:   c.Confidence,
		Status:       StatusPending,
		OrderLinkID:  m.newLink(),
		Timeframe:    c.Timeframe,
		Exchange:     strings.ToLower(c.Venue.Exchange),
		MarketType:   c.Venue.MarketType,
		Source:       source,
		Confirmation: c.Confirmation,
		Snapshot:     c.Snapshot,
		GeneratedAt:  m.now().UTC(),
	}
	if err := m.store.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("persist signal: %w", err)
	}
	m.audit(ctx, sig, "", "system", "")
	m.pub.Publish(broadcast.Event{Topic: broadcast.TopicSignals, Type: broadcast.SignalCreated, Payload: sig.Clone()})
	logger.Infof("signal created id=%s %s %s entry=%s conf=%.2f link=%s", sig.ID, sig.Symbol, sig.Side, sig.EntryPrice, sig.Confidence, sig.OrderLinkID)
	return sig.Clone(), nil
}

// Approve moves PENDING to APPROVED.
func (m *Manager) Approve(ctx context.Context, id, approver string) (*Signal, error) {
	return m.transition(ctx, id, "approve", func(s *Signal) (Status, string, error) {
		if s.Status != StatusPending {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "approve"}
		}
		m.markProcessed(s, approver)
		return StatusApproved, "", nil
	})
}

// Reject moves PENDING or PENDING_USER_CONFIRMATION to REJECTED with a reason.
func (m *Manager) Reject(ctx context.Context, id, rejector, reason string) (*Signal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected by " + nonEmpty(rejector, "operator")
	}
	return m.transition(ctx, id, "reject", func(s *Signal) (Status, string, error) {
		if !s.Status.Awaiting() {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "reject"}
		}
		m.markProcessed(s, rejector)
		s.RejectionReason = reason
		return StatusRejected, reason, nil
	})
}

// RequestConfirmation parks a PENDING signal until a user confirms it.
func (m *Manager) RequestConfirmation(ctx context.Context, id, reason string) (*Signal, error) {
	return m.transition(ctx, id, "request confirmation", func(s *Signal) (Status, string, error) {
		if s.Status != StatusPending {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "request confirmation"}
		}
		return StatusPendingUserConfirmation, reason, nil
	})
}

// Confirm resolves PENDING_USER_CONFIRMATION: accept approves, otherwise rejects.
func (m *Manager) Confirm(ctx context.Context, id, user string, accept bool, reason string) (*Signal, error) {
	return m.transition(ctx, id, "confirm", func(s *Signal) (Status, string, error) {
		if s.Status != StatusPendingUserConfirmation {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "confirm"}
		}
		m.markProcessed(s, user)
		if accept {
			return StatusApproved, reason, nil
		}
		s.RejectionReason = nonEmpty(strings.TrimSpace(reason), "declined by "+nonEmpty(user, "user"))
		return StatusRejected, s.RejectionReason, nil
	})
}

// Expire moves an awaiting signal older than the TTL to EXPIRED.
func (m *Manager) Expire(ctx context.Context, id string) (*Signal, error) {
	return m.transition(ctx, id, "expire", func(s *Signal) (Status, string, error) {
		if !s.Status.Awaiting() {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "expire"}
		}
		age := m.now().Sub(s.GeneratedAt)
		if age <= m.ttl {
			return 0, "", fmt.Errorf("%w: signal %s is %s old, ttl %s", ErrInvalidState, s.ID, age.Truncate(time.Second), m.ttl)
		}
		s.RejectionReason = fmt.Sprintf("expired after %s without approval", m.ttl)
		return StatusExpired, s.RejectionReason, nil
	})
}

// ExpireStale sweeps awaiting signals past the TTL and returns how many expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	pending, err := m.store.ListSignals(ctx, "", StatusPending, StatusPendingUserConfirmation)
	if err != nil {
		return 0, fmt.Errorf("list pending signals: %w", err)
	}
	cutoff := m.now().Add(-m.ttl)
	n := 0
	for _, s := range pending {
		if !s.GeneratedAt.Before(cutoff) {
			continue
		}
		if _, err := m.Expire(ctx, s.ID); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Execute records a confirmed fill: APPROVED -> EXECUTED. Calling it again on an
// EXECUTED signal is a no-op that returns the stored record.
func (m *Manager) Execute(ctx context.Context, id, orderID string) (*Signal, error) {
	var already bool
	sig, err := m.transition(ctx, id, "execute", func(s *Signal) (Status, string, error) {
		if s.Status == StatusExecuted {
			already = true
			return 0, "", nil
		}
		if s.Status != StatusApproved {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "execute"}
		}
		at := m.now().UTC()
		s.ExecutedAt = &at
		s.OrderID = orderID
		return StatusExecuted, "", nil
	})
	if already {
		logger.Debugf("signal %s already executed, order=%s", id, sig.OrderID)
	}
	return sig, err
}

// Fail records a venue rejection: APPROVED -> FAILED.
func (m *Manager) Fail(ctx context.Context, id, reason string) (*Signal, error) {
	reason = nonEmpty(strings.TrimSpace(reason), "order rejected by venue")
	return m.transition(ctx, id, "fail", func(s *Signal) (Status, string, error) {
		if s.Status != StatusApproved {
			return 0, "", &InvalidStateError{ID: s.ID, From: s.Status, Op: "fail"}
		}
		s.FailureReason = reason
		return StatusFailed, reason, nil
	})
}

func (m *Manager) Get(ctx context.Context, id string) (*Signal, error) {
	return m.store.GetSignal(ctx, id)
}

func (m *Manager) GetByOrderLinkID(ctx context.Context, link string) (*Signal, error) {
	return m.store.GetSignalByOrderLinkID(ctx, link)
}

func (m *Manager) List(ctx context.Context, symbol string, statuses ...Status) ([]*Signal, error) {
	return m.store.ListSignals(ctx, symbol, statuses...)
}

// transition loads, mutates and persists one signal under its lock. apply returns
// the next status, or 0 with a nil error for a no-op.
func (m *Manager) transition(ctx context.Context, id, op string, apply func(*Signal) (Status, string, error)) (*Signal, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	current, err := m.store.GetSignal(ctx, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	to, reason, err := apply(next)
	if err != nil {
		return current, err
	}
	if to == 0 {
		return current, nil
	}
	from := current.Status
	if !CanTransition(from, to) {
		return current, &InvalidStateError{ID: id, From: from, Op: op}
	}
	next.Status = to
	if err := m.store.UpdateSignal(ctx, next); err != nil {
		return current, fmt.Errorf("persist signal %s %s: %w", id, op, err)
	}
	m.audit(ctx, next, from.String(), next.ProcessedBy, reason)
	m.pub.Publish(broadcast.Event{Topic: broadcast.TopicSignals, Type: broadcast.SignalUpdated, Payload: next.Clone()})
	logger.Infof("signal %s %s -> %s %s", id, from, to, reason)
	return next.Clone(), nil
}

func (m *Manager) markProcessed(s *Signal, by string) {
	at := m.now().UTC()
	s.ProcessedAt = &at
	s.ProcessedBy = nonEmpty(strings.TrimSpace(by), "system")
}

func (m *Manager) audit(ctx context.Context, s *Signal, from, actor, reason string) {
	err := m.journal.Append(ctx, journal.Entry{
		At:       m.now().UTC(),
		Entity:   journal.EntitySignal,
		EntityID: s.ID,
		From:     from,
		To:       s.Status.String(),
		Actor:    actor,
		Reason:   reason,
	})
	if err != nil {
		logger.Warnf("journal signal %s: %v", s.ID, err)
	}
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
