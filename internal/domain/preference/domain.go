package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NordCoder/Herald/internal/domain/notification"
)

type Digest string

const (
	DigestInstant Digest = "instant"
	DigestDaily   Digest = "daily"
	DigestWeekly  Digest = "weekly"
	DigestNever   Digest = "never"
)

func (d Digest) Valid() bool {
	switch d {
	case DigestInstant, DigestDaily, DigestWeekly, DigestNever:
		return true
	}
	return false
}

// ClockTime is a wall-clock time of day, "HH:MM".
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad hour", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad minute", s)
	}
	return ClockTime{Hour: hh, Minute: mm}, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

type QuietHours struct {
	Enabled  bool      `json:"enabled"`
	Start    ClockTime `json:"start"`
	End      ClockTime `json:"end"`
	Timezone string    `json:"timezone"`
}

func (q QuietHours) location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Active reports whether now falls inside the window. Start == End is an
// empty window. A window whose end is before its start wraps midnight.
func (q QuietHours) Active(now time.Time) bool {
	if !q.Enabled {
		return false
	}
	local := now.In(q.location())
	cur := local.Hour()*60 + local.Minute()
	start, end := q.Start.minutes(), q.End.minutes()
	switch {
	case start == end:
		return false
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}

// Ends returns the first instant at or after now where the window is closed.
// It is only meaningful while Active(now).
func (q QuietHours) Ends(now time.Time) time.Time {
	loc := q.location()
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), q.End.Hour, q.End.Minute, 0, 0, loc)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end.UTC()
}

type Topics struct {
	Mentions       bool `json:"notify_mentions"`
	TaskAssigned   bool `json:"notify_task_assigned"`
	TaskDueSoon    bool `json:"notify_task_due_soon"`
	TaskUpdates    bool `json:"notify_task_updates"`
	DealWon        bool `json:"notify_deal_won"`
	DealUpdates    bool `json:"notify_deal_updates"`
	DocumentShares bool `json:"notify_document_shares"`
	TeamUpdates    bool `json:"notify_team_updates"`
	Achievements   bool `json:"notify_achievements"`
	AgentUpdates   bool `json:"notify_agent_updates"`
}

func (t Topics) Allows(topic notification.Topic) bool {
	switch topic {
	case notification.TopicMentions:
		return t.Mentions
	case notification.TopicTaskAssigned:
		return t.TaskAssigned
	case notification.TopicTaskDueSoon:
		return t.TaskDueSoon
	case notification.TopicTaskUpdates:
		return t.TaskUpdates
	case notification.TopicDealWon:
		return t.DealWon
	case notification.TopicDealUpdates:
		return t.DealUpdates
	case notification.TopicDocumentShares:
		return t.DocumentShares
	case notification.TopicTeamUpdates:
		return t.TeamUpdates
	case notification.TopicAchievements:
		return t.Achievements
	case notification.TopicAgentUpdates:
		return t.AgentUpdates
	default:
		return true
	}
}

// Preference is one row per (user, workspace). WorkspaceID "" is the global row.
type Preference struct {
	UserID      string     `json:"user_id"`
	WorkspaceID string     `json:"workspace_id"`
	InApp       bool       `json:"in_app_enabled"`
	Email       bool       `json:"email_enabled"`
	Topics      Topics     `json:"topics"`
	Quiet       QuietHours `json:"quiet_hours"`
	Digest      Digest     `json:"email_digest"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	// Persisted is false for the hard-coded default.
	Persisted bool `json:"persisted"`
}

// Default allows everything; most users never customise.
func Default(userID, workspaceID string) Preference {
	return Preference{
		UserID:      userID,
		WorkspaceID: workspaceID,
		InApp:       true,
		Email:       true,
		Topics: Topics{
			Mentions: true, TaskAssigned: true, TaskDueSoon: true, TaskUpdates: true,
			DealWon: true, DealUpdates: true, DocumentShares: true, TeamUpdates: true,
			Achievements: true, AgentUpdates: true,
		},
		Quiet: QuietHours{
			Start:    ClockTime{Hour: 22},
			End:      ClockTime{Hour: 8},
			Timezone: "UTC",
		},
		Digest: DigestInstant,
	}
}

func (p Preference) ChannelEnabled(ch notification.Channel) bool {
	switch ch {
	case notification.ChannelInApp:
		return p.InApp
	case notification.ChannelEmail:
		return p.Email
	default:
		return false
	}
}

// Patch carries the fields a user changes; nil leaves a field alone.
type Patch struct {
	InApp          *bool      `json:"in_app_enabled,omitempty"`
	Email          *bool      `json:"email_enabled,omitempty"`
	Mentions       *bool      `json:"notify_mentions,omitempty"`
	TaskAssigned   *bool      `json:"notify_task_assigned,omitempty"`
	TaskDueSoon    *bool      `json:"notify_task_due_soon,omitempty"`
	TaskUpdates    *bool      `json:"notify_task_updates,omitempty"`
	DealWon        *bool      `json:"notify_deal_won,omitempty"`
	DealUpdates    *bool      `json:"notify_deal_updates,omitempty"`
	DocumentShares *bool      `json:"notify_document_shares,omitempty"`
	TeamUpdates    *bool      `json:"notify_team_updates,omitempty"`
	Achievements   *bool      `json:"notify_achievements,omitempty"`
	AgentUpdates   *bool      `json:"notify_agent_updates,omitempty"`
	QuietEnabled   *bool      `json:"quiet_hours_enabled,omitempty"`
	QuietStart     *ClockTime `json:"quiet_hours_start,omitempty"`
	QuietEnd       *ClockTime `json:"quiet_hours_end,omitempty"`
	Timezone       *string    `json:"timezone,omitempty"`
	Digest         *Digest    `json:"email_digest,omitempty"`
}

func (p Patch) Validate() error {
	if p.Digest != nil && !p.Digest.Valid() {
		return fmt.Errorf("%w: email_digest %q", ErrInvalidPatch, *p.Digest)
	}
	if p.Timezone != nil && *p.Timezone != "" {
		if _, err := time.LoadLocation(*p.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", ErrInvalidPatch, *p.Timezone)
		}
	}
	return nil
}

func (p Patch) Apply(dst *Preference) {
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&dst.InApp, p.InApp)
	set(&dst.Email, p.Email)
	set(&dst.Topics.Mentions, p.Mentions)
	set(&dst.Topics.TaskAssigned, p.TaskAssigned)
	set(&dst.Topics.TaskDueSoon, p.TaskDueSoon)
	set(&dst.Topics.TaskUpdates, p.TaskUpdates)
	set(&dst.Topics.DealWon, p.DealWon)
	set(&dst.Topics.DealUpdates, p.DealUpdates)
	set(&dst.Topics.DocumentShares, p.DocumentShares)
	set(&dst.Topics.TeamUpdates, p.TeamUpdates)
	set(&dst.Topics.Achievements, p.Achievements)
	set(&dst.Topics.AgentUpdates, p.AgentUpdates)
	set(&dst.Quiet.Enabled, p.QuietEnabled)
	if p.QuietStart != nil {
		dst.Quiet.Start = *p.QuietStart
	}
	if p.QuietEnd != nil {
		dst.Quiet.End = *p.QuietEnd
	}
	if p.Timezone != nil {
		dst.Quiet.Timezone = *p.Timezone
	}
	if p.Digest != nil {
		dst.Digest = *p.Digest
	}
}
