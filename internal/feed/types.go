// Package feed defines the core domain model for the activity pipeline:
// raw webhook events, tracked repositories, subscribers, timeline entries,
// and milestone notification records.
//
// The structs carry gorm tags so the postgres store can map them directly,
// but nothing in this package touches a database. Store access goes through
// the interfaces in stores.go so the pipeline can run against the in-memory
// fakes in internal/store/storetest.
package feed

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies which webhook event family a payload belongs to.
// The set is closed: adding a new type means adding a parser+processor pair.
type EventType string

const (
	EventPullRequest       EventType = "pull_request"
	EventPullRequestReview EventType = "pull_request_review"
	EventIssues            EventType = "issues"
	EventIssueComment      EventType = "issue_comment"
	EventRelease           EventType = "release"
	EventPush              EventType = "push"
)

// KnownEventTypes lists every event type the pipeline processes.
func KnownEventTypes() []EventType {
	return []EventType{
		EventPullRequest,
		EventPullRequestReview,
		EventIssues,
		EventIssueComment,
		EventRelease,
		EventPush,
	}
}

// RawEvent is one validated webhook delivery, appended to the raw event log.
// Rows are immutable once written except for LastProcessed, which the worker
// sets after a batch run. Rows are never deleted (audit trail). Duplicate
// deliveries of the same webhook produce duplicate rows on purpose; dedup
// happens downstream by content hash, not by delivery identity.
type RawEvent struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	EventType     EventType       `gorm:"not null"`
	Action        string          ``
	Org           string          `gorm:"not null"`
	Repo          string          `gorm:"not null"`
	RawPayload    json.RawMessage `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time       `gorm:"index"`
	LastProcessed *time.Time      `gorm:"index"`
}

// TableName implements the gorm tabler interface.
func (RawEvent) TableName() string { return "raw_events" }

// Repository is an internal tenant a RawEvent can belong to. Org and Repo are
// stored lowercased so (org, repo) lookups are case-insensitive.
type Repository struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Org         string          `gorm:"uniqueIndex:ux_repositories_org_repo,priority:1"`
	Repo        string          `gorm:"uniqueIndex:ux_repositories_org_repo,priority:2"`
	AccessToken string          ``
	Settings    json.RawMessage `gorm:"type:jsonb"`
	CreatedAt   time.Time       ``
}

// TableName implements the gorm tabler interface.
func (Repository) TableName() string { return "repositories" }

// Subscriber links a user to a repository they follow. Owner marks users who
// administratively own the repo; milestone notifications go to owners.
type Subscriber struct {
	UserID    string    `gorm:"uniqueIndex:ux_subscribers_user_repo,priority:1"`
	RepoID    uuid.UUID `gorm:"type:uuid;uniqueIndex:ux_subscribers_user_repo,priority:2;index"`
	Email     string    ``
	Owner     bool      ``
	CreatedAt time.Time ``
}

// TableName implements the gorm tabler interface.
func (Subscriber) TableName() string { return "subscribers" }

// Payload is the normalized, feed-facing shape of one logical activity.
// It is what processors emit and what timeline rows store as data.
type Payload struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary,omitempty"`
	Action       string   `json:"action,omitempty"`
	URL          string   `json:"url,omitempty"`
	Number       int      `json:"number,omitempty"`
	Tag          string   `json:"tag,omitempty"`
	Ref          string   `json:"ref,omitempty"`
	HeadSHA      string   `json:"head_sha,omitempty"`
	CommitCount  int      `json:"commit_count,omitempty"`
	Author       string   `json:"author,omitempty"`
	Contributors []string `json:"contributors,omitempty"`
}

// PublicTimelineEntry is the public feed projection of one logical activity.
// At most one row exists per DedupeHash; later events about the same activity
// update the row in place. Rows are never deleted, only read or snoozed.
type PublicTimelineEntry struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey"`
	Type       EventType   `gorm:"not null"`
	Data       Payload     `gorm:"serializer:json;type:jsonb"`
	Score      float64     ``
	RepoID     uuid.UUID   `gorm:"type:uuid;index"`
	DedupeHash string      `gorm:"uniqueIndex:ux_public_timeline_hash"`
	UpdatedAt  time.Time   ``
	EventIDs   []uuid.UUID `gorm:"serializer:json;type:jsonb"`
	IsRead     bool        ``
	SnoozeTo   *time.Time  `gorm:"index"`
	Likes      int64       ``
}

// TableName implements the gorm tabler interface.
func (PublicTimelineEntry) TableName() string { return "public_timeline" }

// UserTimelineEntry is the per-subscriber projection. At most one row exists
// per (UserID, DedupeHash). Categories is populated only when the user is
// personally involved in the activity (author, assignee, commenter, pusher);
// absent otherwise so the entry shows without a "mentions you" badge.
type UserTimelineEntry struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey"`
	UserID     string      `gorm:"uniqueIndex:ux_user_timeline_user_hash,priority:1"`
	Type       EventType   `gorm:"not null"`
	Data       Payload     `gorm:"serializer:json;type:jsonb"`
	Score      float64     ``
	RepoID     uuid.UUID   `gorm:"type:uuid;index"`
	DedupeHash string      `gorm:"uniqueIndex:ux_user_timeline_user_hash,priority:2"`
	UpdatedAt  time.Time   ``
	EventIDs   []uuid.UUID `gorm:"serializer:json;type:jsonb"`
	IsRead     bool        ``
	SnoozeTo   *time.Time  `gorm:"index"`
	Categories []string    `gorm:"serializer:json;type:jsonb"`
}

// TableName implements the gorm tabler interface.
func (UserTimelineEntry) TableName() string { return "user_timeline" }

// NotificationRecord marks one milestone threshold as already notified for an
// entity. The unique (Type, EntityID, Key) triple is what makes milestone
// notification idempotent across invocations.
type NotificationRecord struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Type      NotificationType `gorm:"uniqueIndex:ux_notifications_type_entity_key,priority:1"`
	EntityID  string           `gorm:"uniqueIndex:ux_notifications_type_entity_key,priority:2"`
	Key       int64            `gorm:"uniqueIndex:ux_notifications_type_entity_key,priority:3"`
	CreatedAt time.Time        ``
}

// TableName implements the gorm tabler interface.
func (NotificationRecord) TableName() string { return "notification_records" }

// NotificationType distinguishes the two milestone counters.
type NotificationType string

const (
	NotifyEngagementMilestone NotificationType = "engagement_milestone"
	NotifySubscriberMilestone NotificationType = "subscriber_milestone"
)

// MilestoneThresholds is the fixed ascending threshold ladder shared by both
// notifier variants.
var MilestoneThresholds = []int64{1, 10, 25, 50, 100, 1000}
