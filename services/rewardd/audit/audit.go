// Package audit keeps the integrity review queue: reward records that were
// rejected or capped and need an operator decision.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finova/core/types"
)

// Review states.
const (
	StateOpen      = "OPEN"
	StateConfirmed = "CONFIRMED"
	StateOverruled = "OVERRULED"
)

var (
	// ErrNotFound is returned when a review does not exist.
	ErrNotFound = errors.New("audit: review not found")
	// ErrResolved is returned when resolving a review twice.
	ErrResolved = errors.New("audit: review already resolved")
)

// Review is one queued record.
type Review struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RecordID         string     `gorm:"uniqueIndex;not null" json:"recordId"`
	Account          string     `gorm:"index;not null" json:"account"`
	EventID          string     `json:"eventId"`
	Epoch            uint64     `gorm:"index" json:"epoch"`
	Status           string     `json:"status"`
	Flags            string     `json:"flags"`
	HumanProbability string     `json:"humanProbability"`
	Difficulty       string     `json:"difficulty"`
	State            string     `gorm:"index;not null" json:"state"`
	Decision         string     `json:"decision,omitempty"`
	Reviewer         string     `json:"reviewer,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
}

// Open connects to the review database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate creates the review table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Review{})
}

// NeedsReview reports whether a record belongs in the queue.
func NeedsReview(record types.RewardRecord) bool {
	return record.Status == types.RewardRejected || record.Flags.Has(types.FlagCapped)
}

// Queue wraps the review table.
type Queue struct {
	db  *gorm.DB
	now func() time.Time
}

// NewQueue constructs a queue on db.
func NewQueue(db *gorm.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

// Enqueue inserts a review for record. Enqueueing the same record twice is a
// no-op.
func (q *Queue) Enqueue(ctx context.Context, record types.RewardRecord) error {
	now := q.now().UTC()
	review := Review{
		ID:               uuid.New(),
		RecordID:         record.ID,
		Account:          string(record.Account),
		EventID:          record.EventID,
		Epoch:            record.Epoch,
		Status:           string(record.Status),
		Flags:            strings.Join(record.Flags.Names(), ","),
		HumanProbability: record.Breakdown.HumanProbability.String(),
		Difficulty:       record.Breakdown.Difficulty.String(),
		State:            StateOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return q.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "record_id"}}, DoNothing: true}).
		Create(&review).Error
}

// Pending returns open reviews, oldest first.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Review, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var reviews []Review
	err := q.db.WithContext(ctx).
		Where("state = ?", StateOpen).
		Order("created_at asc").
		Limit(limit).
		Find(&reviews).Error
	return reviews, err
}

// Count returns the number of open reviews.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&Review{}).Where("state = ?", StateOpen).Count(&n).Error
	return n, err
}

// Resolve records an operator decision. confirm=true upholds the engine's
// outcome.
func (q *Queue) Resolve(ctx context.Context, id uuid.UUID, reviewer, decision string, confirm bool) (Review, error) {
	var review Review
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&review, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if review.State != StateOpen {
			return ErrResolved
		}
		now := q.now().UTC()
		review.State = StateOverruled
		if confirm {
			review.State = StateConfirmed
		}
		review.Reviewer = reviewer
		review.Decision = decision
		review.ResolvedAt = &now
		review.UpdatedAt = now
		return tx.Save(&review).Error
	})
	return review, err
}
