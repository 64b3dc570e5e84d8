package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Upload records a drop-folder file that was turned into a template.
type Upload struct {
	Path       string
	Checksum   string
	TemplateID string
	UploadedAt time.Time
}

// GetUpload returns the record for path. ok is false when none exists.
func (db *DB) GetUpload(path string) (u Upload, ok bool, err error) {
	err = db.conn.QueryRow(
		`SELECT path, checksum, template_id, uploaded_at FROM template_uploads WHERE path = ?`, path,
	).Scan(&u.Path, &u.Checksum, &u.TemplateID, &u.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, false, nil
	}
	if err != nil {
		return Upload{}, false, fmt.Errorf("localstore: get upload: %w", err)
	}
	return u, true, nil
}

// PutUpload inserts or replaces the record for u.Path.
func (db *DB) PutUpload(u Upload) error {
	if u.UploadedAt.IsZero() {
		u.UploadedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO template_uploads (path, checksum, template_id, uploaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum    = excluded.checksum,
			template_id = excluded.template_id,
			uploaded_at = excluded.uploaded_at
	`, u.Path, u.Checksum, u.TemplateID, u.UploadedAt)
	if err != nil {
		return fmt.Errorf("localstore: put upload: %w", err)
	}
	return nil
}

// DeleteUpload forgets the record for path.
func (db *DB) DeleteUpload(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM template_uploads WHERE path = ?`, path); err != nil {
		return fmt.Errorf("localstore: delete upload: %w", err)
	}
	return nil
}

// Uploads returns every record ordered by path.
func (db *DB) Uploads() ([]Upload, error) {
	rows, err := db.conn.Query(`SELECT path, checksum, template_id, uploaded_at FROM template_uploads ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("localstore: uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.Path, &u.Checksum, &u.TemplateID, &u.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
