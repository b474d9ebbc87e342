package notification

import (
	"time"
)

type Status string

const (
	StatusCreated      Status = "created"
	StatusDelivered    Status = "delivered"
	StatusSeen         Status = "seen"
	StatusAcknowledged Status = "acknowledged"
	StatusFailed       Status = "failed"
	StatusRetrying     Status = "retrying"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusDelivered, StatusSeen, StatusAcknowledged, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// Priority is stored as its rank so the retry claim can order by it.
type Priority int16

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "normal"
}

func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority accepts the lowercase names; empty means normal.
func ParsePriority(s string) (Priority, bool) {
	if s == "" {
		return PriorityNormal, true
	}
	for p, name := range priorityNames {
		if name == s {
			return p, true
		}
	}
	return PriorityNormal, false
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, ok := ParsePriority(string(b))
	if !ok {
		return ErrInvalidPriority
	}
	*p = v
	return nil
}

// Channel is a delivery target behind the retry machinery.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

type LinkedEntity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Notification struct {
	ID             string        `json:"id"`
	RecipientID    string        `json:"recipient_id"`
	WorkspaceID    string        `json:"workspace_id"`
	EventType      string        `json:"event_type"`
	Category       Category      `json:"category"`
	Title          string        `json:"title"`
	Body           string        `json:"body"`
	Entity         *LinkedEntity `json:"entity,omitempty"`
	Priority       Priority      `json:"priority"`
	Read           bool          `json:"read"`
	Status         Status        `json:"status"`
	DedupeKey      string        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	DeliveredAt    *time.Time    `json:"delivered_at,omitempty"`
	SeenAt         *time.Time    `json:"seen_at,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	Archived       bool          `json:"archived"`
	ArchivedAt     *time.Time    `json:"archived_at,omitempty"`
	RetryCount     int           `json:"retry_count"`
	NextRetryAt    *time.Time    `json:"next_retry_at,omitempty"`
	LockedUntil    *time.Time    `json:"-"`
	LastError      string        `json:"last_error,omitempty"`

	// DeliveredChannels lists the channels that already took the row. Retries
	// only go to the rest.
	DeliveredChannels []Channel `json:"delivered_channels,omitempty"`
}

func (n *Notification) HasDelivered(ch Channel) bool {
	for _, c := range n.DeliveredChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// AddDelivered records channels that took the row and reports whether any was
// new.
func (n *Notification) AddDelivered(chs ...Channel) bool {
	added := false
	for _, ch := range chs {
		if ch == "" || n.HasDelivered(ch) {
			continue
		}
		n.DeliveredChannels = append(n.DeliveredChannels, ch)
		added = true
	}
	return added
}

func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	cp := *n
	if n.Entity != nil {
		e := *n.Entity
		cp.Entity = &e
	}
	cp.DeliveredAt = cloneTime(n.DeliveredAt)
	cp.SeenAt = cloneTime(n.SeenAt)
	cp.AcknowledgedAt = cloneTime(n.AcknowledgedAt)
	cp.ReadAt = cloneTime(n.ReadAt)
	cp.ExpiresAt = cloneTime(n.ExpiresAt)
	cp.ArchivedAt = cloneTime(n.ArchivedAt)
	cp.NextRetryAt = cloneTime(n.NextRetryAt)
	cp.LockedUntil = cloneTime(n.LockedUntil)
	if n.DeliveredChannels != nil {
		cp.DeliveredChannels = append([]Channel(nil), n.DeliveredChannels...)
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ListFilter drives the keyset query. Limit is the number of rows the store
// returns; callers ask for one extra to learn whether another page exists.
type ListFilter struct {
	RecipientID     string
	WorkspaceID     string
	UnreadOnly      bool
	Category        Category
	Priority        *Priority
	IncludeArchived bool
	After           *Cursor
	Limit           int
}

// ClaimOptions selects the rows a retry sweep may take.
type ClaimOptions struct {
	Now         time.Time
	Limit       int
	MaxAttempts int
	Lease       time.Duration
}

// ReadChange reports one row flipped by a bulk mark-read.
type ReadChange struct {
	ID          string
	WorkspaceID string
	PrevStatus  Status
	NewStatus   Status
}
