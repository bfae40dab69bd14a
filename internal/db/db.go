package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	database, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(database); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return database, nil
}

func runMigrations(database *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS channels (
            id BIGSERIAL PRIMARY KEY,
            tenant_id BIGINT NOT NULL,
            kind TEXT NOT NULL CHECK (kind IN ('public', 'private', 'direct')),
            name TEXT,
            creator_id BIGINT NOT NULL,
            settings JSONB NOT NULL DEFAULT '{}',
            direct_key TEXT UNIQUE,
            last_message_id BIGINT,
            last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_channels_tenant ON channels (tenant_id, last_activity DESC);`,
		`CREATE TABLE IF NOT EXISTS channel_members (
            channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (channel_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members (user_id) WHERE is_active;`,
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            content TEXT NOT NULL,
            shadow TEXT,
            is_encrypted BOOLEAN NOT NULL DEFAULT FALSE,
            state TEXT NOT NULL DEFAULT 'active' CHECK (state IN ('active', 'edited', 'deleted')),
            reply_to BIGINT REFERENCES messages(id),
            mentions BIGINT[] NOT NULL DEFAULT '{}',
            attachments TEXT[] NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            deleted_by BIGINT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS message_edits (
            id BIGSERIAL PRIMARY KEY,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            prior_content TEXT NOT NULL,
            edited_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS reactions (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            emoji TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, user_id, emoji)
        );`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
            channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (message_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_read_receipts_channel_user ON read_receipts (channel_id, user_id, read_at DESC);`,
	}

	for _, m := range migrations {
		if _, err := database.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
