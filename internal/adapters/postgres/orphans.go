package postgres

import (
	"context"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

func (s *Store) CreateOrphanedFile(ctx context.Context, o domain.OrphanedFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orphaned_files (id, s3_key, request_id, retry_count, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.S3Key, o.RequestID, o.RetryCount, o.LastError, o.CreatedAt)
	return classifyDBErr("create orphaned file", err)
}

// ListOrphanedFiles returns undeleted entries under the retry ceiling,
// oldest first, bounded to batchSize — the sweeper's unit of work (§4.9).
func (s *Store) ListOrphanedFiles(ctx context.Context, batchSize int, maxRetries int) ([]domain.OrphanedFile, error) {
	var files []domain.OrphanedFile
	err := s.db.SelectContext(ctx, &files, `
		SELECT * FROM orphaned_files
		WHERE deleted_at IS NULL AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, maxRetries, batchSize)
	if err != nil {
		return nil, classifyDBErr("list orphaned files", err)
	}
	return files, nil
}

func (s *Store) MarkOrphanDeleted(ctx context.Context, id string, deletedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orphaned_files SET deleted_at = $1 WHERE id = $2
	`, deletedAt, id)
	return classifyDBErr("mark orphan deleted", err)
}

func (s *Store) MarkOrphanRetry(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orphaned_files SET retry_count = retry_count + 1, last_error = $1 WHERE id = $2
	`, errMsg, id)
	return classifyDBErr("mark orphan retry", err)
}

func (s *Store) ListDeadLetters(ctx context.Context, queue domain.QueueName, limit int) ([]ports.DeadLetterEntry, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT job_id, queue, error_message, failed_at FROM dead_letters
		WHERE queue = $1
		ORDER BY failed_at DESC
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, classifyDBErr("list dead letters", err)
	}
	defer rows.Close()

	var entries []ports.DeadLetterEntry
	for rows.Next() {
		var e ports.DeadLetterEntry
		if err := rows.Scan(&e.JobID, &e.Queue, &e.ErrorMessage, &e.FailedAt); err != nil {
			return nil, classifyDBErr("scan dead letter", err)
		}
		entries = append(entries, e)
	}
	return entries, classifyDBErr("iterate dead letters", rows.Err())
}
