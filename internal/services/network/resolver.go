// Package network walks the sponsor tree formed by User.SponsorID.
package network

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/gorm"
)

// Link is one step of an upward walk: the sponsor found at Level
type Link struct {
	Level   int
	Sponsor *models.User
}

// Level groups the descendants found at one depth of a downward walk
type Level struct {
	Level int           `json:"level"`
	Users []models.User `json:"users"`
}

// Subtree is the downline of a user, grouped by level
type Subtree struct {
	RootID uuid.UUID `json:"root_id"`
	Levels []Level   `json:"levels"`
}

// Size returns the number of descendants in the subtree
func (s *Subtree) Size() int {
	n := 0
	for _, l := range s.Levels {
		n += len(l.Users)
	}
	return n
}

// Resolver traverses the sponsor tree
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new resolver
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// WithTx returns a resolver that reads through tx
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	return &Resolver{db: tx}
}

// UpwardChain yields the sponsors of userID from level 1 (the direct sponsor)
// up to maxLevels. The walk ends early at a user without a sponsor, or at a
// sponsor reference that no longer resolves. Each range over the returned
// sequence starts a fresh walk.
func (r *Resolver) UpwardChain(ctx context.Context, userID uuid.UUID, maxLevels int) iter.Seq2[Link, error] {
	return func(yield func(Link, error) bool) {
		var start models.User
		if err := r.db.WithContext(ctx).Select("id", "sponsor_id").First(&start, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				yield(Link{}, apperrors.NotFound("user %s not found", userID))
				return
			}
			yield(Link{}, fmt.Errorf("error loading user %s: %w", userID, err))
			return
		}

		visited := map[uuid.UUID]bool{userID: true}
		next := start.SponsorID
		for level := 1; level <= maxLevels && next != nil; level++ {
			if visited[*next] {
				yield(Link{}, apperrors.Invariant("sponsor cycle detected at user %s", *next))
				return
			}
			visited[*next] = true

			var sponsor models.User
			err := r.db.WithContext(ctx).First(&sponsor, "id = ?", *next).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// orphaned sponsor reference ends the chain
				return
			}
			if err != nil {
				yield(Link{}, fmt.Errorf("error loading sponsor at level %d: %w", level, err))
				return
			}

			if !yield(Link{Level: level, Sponsor: &sponsor}, nil) {
				return
			}
			next = sponsor.SponsorID
		}
	}
}

// DownwardSubtree expands the downline of userID breadth first, one query per
// level, stopping at an empty level or after maxLevels.
func (r *Resolver) DownwardSubtree(ctx context.Context, userID uuid.UUID, maxLevels int) (*Subtree, error) {
	tree := &Subtree{RootID: userID}
	parents := []uuid.UUID{userID}

	for level := 1; level <= maxLevels && len(parents) > 0; level++ {
		var users []models.User
		if err := r.db.WithContext(ctx).
			Where("sponsor_id IN ?", parents).
			Order("created_at DESC").
			Find(&users).Error; err != nil {
			return nil, fmt.Errorf("error loading network level %d: %w", level, err)
		}
		if len(users) == 0 {
			break
		}

		tree.Levels = append(tree.Levels, Level{Level: level, Users: users})
		parents = make([]uuid.UUID, 0, len(users))
		for _, u := range users {
			parents = append(parents, u.ID)
		}
	}

	return tree, nil
}

// NetworkSize counts the downline of userID without loading user records
func (r *Resolver) NetworkSize(ctx context.Context, userID uuid.UUID, maxLevels int) (int64, error) {
	var total int64
	parents := []uuid.UUID{userID}

	for level := 1; level <= maxLevels && len(parents) > 0; level++ {
		ids, err := r.childIDs(ctx, parents)
		if err != nil {
			return 0, fmt.Errorf("error counting network level %d: %w", level, err)
		}
		total += int64(len(ids))
		parents = ids
	}

	return total, nil
}

// UsersAtLevel returns one page of the users exactly level steps below userID
// together with the total count at that level.
func (r *Resolver) UsersAtLevel(ctx context.Context, userID uuid.UUID, level, offset, limit int) ([]models.User, int64, error) {
	parents := []uuid.UUID{userID}
	for depth := 1; depth < level && len(parents) > 0; depth++ {
		ids, err := r.childIDs(ctx, parents)
		if err != nil {
			return nil, 0, fmt.Errorf("error walking network level %d: %w", depth, err)
		}
		parents = ids
	}
	if len(parents) == 0 {
		return []models.User{}, 0, nil
	}

	query := r.db.WithContext(ctx).Model(&models.User{}).Where("sponsor_id IN ?", parents)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting users at level %d: %w", level, err)
	}

	var users []models.User
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("error loading users at level %d: %w", level, err)
	}
	return users, total, nil
}

func (r *Resolver) childIDs(ctx context.Context, parents []uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("sponsor_id IN ?", parents).
		Pluck("id", &ids).Error
	return ids, err
}
