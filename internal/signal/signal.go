// Package signal owns the lifecycle of candidate trade signals.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/internal/market"
	"tradeengine/internal/types"
)

var (
	ErrNotFound     = errors.New("signal not found")
	ErrInvalidState = errors.New("invalid signal state transition")
	ErrMissingField = errors.New("signal missing required field")
)

// InvalidStateError reports an operation attempted from a state that does not allow it.
type InvalidStateError struct {
	ID   string
	From Status
	Op   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("signal %s: cannot %s from %s", e.ID, e.Op, e.From)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type Status int

const (
	StatusPending Status = iota + 1
	StatusPendingUserConfirmation
	StatusApproved
	StatusRejected
	StatusExpired
	StatusExecuted
	StatusFailed
)

var statusNames = map[Status]string{
	StatusPending:                 "PENDING",
	StatusPendingUserConfirmation: "PENDING_USER_CONFIRMATION",
	StatusApproved:                "APPROVED",
	StatusRejected:                "REJECTED",
	StatusExpired:                 "EXPIRED",
	StatusExecuted:                "EXECUTED",
	StatusFailed:                  "FAILED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func ParseStatus(raw string) (Status, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for s, name := range statusNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown signal status %q", raw)
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusExpired, StatusFailed:
		return true
	case StatusPending, StatusPendingUserConfirmation, StatusApproved:
		return false
	default:
		return false
	}
}

// Awaiting reports whether the signal still waits for a decision.
func (s Status) Awaiting() bool {
	return s == StatusPending || s == StatusPendingUserConfirmation
}

// transitions lists every allowed edge; anything else is rejected.
var transitions = map[Status][]Status{
	StatusPending:                 {StatusApproved, StatusRejected, StatusExpired, StatusPendingUserConfirmation},
	StatusPendingUserConfirmation: {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:                {StatusExecuted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	SourceConfluence = "confluence"
	SourceManual     = "manual"
)

// Signal is a candidate trade idea and its decision trail.
type Signal struct {
	ID              string            `json:"id"`
	Symbol          string            `json:"symbol"`
	Side            types.Side        `json:"side"`
	EntryPrice      decimal.Decimal   `json:"entry_price"`
	Quantity        decimal.Decimal   `json:"quantity"`
	StopLoss        decimal.Decimal   `json:"stop_loss"`
	TakeProfit      decimal.Decimal   `json:"take_profit"`
	Confidence      float64           `json:"confidence"`
	Status          Status            `json:"status"`
	OrderLinkID     string            `json:"order_link_id"`
	Timeframe       market.Timeframe  `json:"timeframe,omitempty"`
	Exchange        string            `json:"exchange,omitempty"`
	MarketType      market.MarketType `json:"market_type,omitempty"`
	Source          string            `json:"source,omitempty"`
	Confirmation    string            `json:"confirmation,omitempty"`
	Snapshot        json.RawMessage   `json:"confluence,omitempty"`
	GeneratedAt     time.Time         `json:"generated_at"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty"`
	ProcessedBy     string            `json:"processed_by,omitempty"`
	ExecutedAt      *time.Time        `json:"executed_at,omitempty"`
	OrderID         string            `json:"order_id,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
}

// Clone returns a deep copy so callers never alias stored state.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	c := *s
	if s.Snapshot != nil {
		c.Snapshot = append(json.RawMessage(nil), s.Snapshot...)
	}
	if s.ProcessedAt != nil {
		t := *s.ProcessedAt
		c.ProcessedAt = &t
	}
	if s.ExecutedAt != nil {
		t := *s.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// Venue is where the signal should be executed.
func (s *Signal) Venue() market.Venue {
	return market.Venue{Exchange: s.Exchange, MarketType: s.MarketType}
}

// Candidate is the input to Create.
type Candidate struct {
	Symbol       string
	Side         types.Side
	EntryPrice   decimal.Decimal
	Quantity     decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	Confidence   float64
	Timeframe    market.Timeframe
	Venue        market.Venue
	Source       string
	Confirmation string
	Snapshot     json.RawMessage
}

func (c Candidate) validate() error {
	var missing []string
	if strings.TrimSpace(c.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if !c.Side.Valid() {
		missing = append(missing, "side")
	}
	if !c.EntryPrice.IsPositive() {
		missing = append(missing, "entryPrice")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %.4f outside [0,1]", c.Confidence)
	}
	return nil
}
