package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

// RepoDirectory is the postgres-backed repository and subscriber lookup.
type RepoDirectory struct {
	db *gorm.DB
}

// NewRepoDirectory creates a RepoDirectory on the given connection.
func NewRepoDirectory(db *gorm.DB) *RepoDirectory {
	return &RepoDirectory{db: db}
}

// Lookup resolves an (org, repo) pair case-insensitively. Rows are stored
// lowercased, so lowering the input is enough.
func (d *RepoDirectory) Lookup(ctx context.Context, org, repo string) (*feed.Repository, error) {
	var r feed.Repository
	err := d.db.WithContext(ctx).
		Where("org = ? AND repo = ?", strings.ToLower(org), strings.ToLower(repo)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, feed.ErrUnknownRepo
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create registers a repository, lowercasing org and repo for the
// case-insensitive unique index.
func (d *RepoDirectory) Create(ctx context.Context, r *feed.Repository) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Org = strings.ToLower(r.Org)
	r.Repo = strings.ToLower(r.Repo)
	return d.db.WithContext(ctx).Create(r).Error
}

// List returns every tracked repository, ordered by org then repo.
func (d *RepoDirectory) List(ctx context.Context) ([]feed.Repository, error) {
	var repos []feed.Repository
	if err := d.db.WithContext(ctx).Order("org, repo").Find(&repos).Error; err != nil {
		return nil, err
	}
	return repos, nil
}

// Subscribers returns every subscriber of the repo.
func (d *RepoDirectory) Subscribers(ctx context.Context, repoID uuid.UUID) ([]feed.Subscriber, error) {
	var subs []feed.Subscriber
	if err := d.db.WithContext(ctx).Where("repo_id = ?", repoID).Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// Owners returns the subscribers flagged as administrative owners.
func (d *RepoDirectory) Owners(ctx context.Context, repoID uuid.UUID) ([]feed.Subscriber, error) {
	var subs []feed.Subscriber
	err := d.db.WithContext(ctx).
		Where("repo_id = ? AND owner", repoID).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// SubscriberCount returns how many users follow the repo.
func (d *RepoDirectory) SubscriberCount(ctx context.Context, repoID uuid.UUID) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).
		Model(&feed.Subscriber{}).
		Where("repo_id = ?", repoID).
		Count(&n).Error
	return n, err
}

// Subscribe records a (user, repo) subscription. Conflicts on the unique
// (user_id, repo_id) index are ignored so repeated subscribes stay idempotent.
func (d *RepoDirectory) Subscribe(ctx context.Context, sub *feed.Subscriber) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "repo_id"}},
			DoNothing: true,
		}).
		Create(sub).Error
}

var _ feed.RepoDirectory = (*RepoDirectory)(nil)
