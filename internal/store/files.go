package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertFile(ctx context.Context, file File) (File, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO files (application_id, user_id, name, mime_type, size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, upload_status, "timestamp"
	`, file.ApplicationID, file.UserID, file.Name, file.MimeType, file.Size).Scan(&file.ID, &file.UploadStatus, &file.CreatedAt)
	if err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, appID, fileID string) (File, error) {
	var file File
	err := s.db.QueryRowContext(ctx, `
		SELECT id, application_id, user_id, name, mime_type, size, upload_status, "timestamp"
		FROM files WHERE application_id = $1 AND id = $2
	`, appID, fileID).Scan(&file.ID, &file.ApplicationID, &file.UserID, &file.Name, &file.MimeType, &file.Size, &file.UploadStatus, &file.CreatedAt)
	if err != nil {
		return File{}, err
	}
	return file, nil
}

func (s *PostgresStore) UpdateFileStatus(ctx context.Context, fileID, status string, size int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE files SET upload_status = $2, size = CASE WHEN $3::bigint > 0 THEN $3::bigint ELSE size END WHERE id = $1
	`, fileID, status, size)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return requireAffected(result)
}
