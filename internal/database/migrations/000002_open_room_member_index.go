package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// At most one open membership row per (room, user).
func createOpenRoomMemberIndexMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_open_room_member_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_room_members_open
				ON room_members (room_id, user_id)
				WHERE left_at IS NULL
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_room_members_open").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createOpenRoomMemberIndexMigration())
}
