package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// At most one open voting per (room, target).
func createOpenVotingIndexMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_open_voting_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_votings_open_room_target
				ON votings (room_id, target_id)
				WHERE is_completed = false
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_votings_open_room_target").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createOpenVotingIndexMigration())
}
