package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Bursar store (SQLite).
var Migrations = migrate.NewGroup("bursar")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_bursar_documents",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_documents (
    collection TEXT    NOT NULL,
    id         TEXT    NOT NULL,
    body       TEXT    NOT NULL DEFAULT '{}',
    revision   INTEGER NOT NULL DEFAULT 1,
    updated_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_bursar_documents_updated ON bursar_documents (collection, updated_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_documents`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_sequences",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_sequences (
    name  TEXT    PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_sequences`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "index_bursar_lookup_fields",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE INDEX IF NOT EXISTS idx_bursar_documents_exam ON bursar_documents (collection, json_extract(body, '$.examId'));
CREATE INDEX IF NOT EXISTS idx_bursar_documents_student ON bursar_documents (collection, json_extract(body, '$.studentId'));
CREATE INDEX IF NOT EXISTS idx_bursar_documents_school ON bursar_documents (collection, json_extract(body, '$.schoolId'));
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP INDEX IF EXISTS idx_bursar_documents_exam;
DROP INDEX IF EXISTS idx_bursar_documents_student;
DROP INDEX IF EXISTS idx_bursar_documents_school;
`)
				return err
			},
		},
	)
}
