package persistence

import (
	"context"
	"fmt"
)

// CreateChecklistForEnrollment seeds the fixed onboarding task list for an
// enrollment. The unique (enrollment_id, task_key) constraint makes reseeding
// a no-op, so this is safe to call every time an enrollment is approved.
func (s *PostgresStore) CreateChecklistForEnrollment(ctx context.Context, enrollmentID int64) error {
	for _, task := range ChecklistTasks {
		_, err := s.exec(ctx,
			`INSERT INTO enrollment_checklist (enrollment_id, task_key, task_name)
             VALUES ($1, $2, $3)
             ON CONFLICT (enrollment_id, task_key) DO NOTHING`,
			enrollmentID, task.Key, task.Name)
		if err != nil {
			return fmt.Errorf("seed checklist task %q: %w", task.Key, err)
		}
	}
	return nil
}

// GetChecklistForEnrollment returns the enrollment's checklist in seeded
// order.
func (s *PostgresStore) GetChecklistForEnrollment(ctx context.Context, enrollmentID int64) ([]ChecklistTask, error) {
	var out []ChecklistTask
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, enrollment_id, task_key, task_name,
                COALESCE(completed, 0), completed_at::text, completed_by,
                email_recipient, COALESCE(email_sent, 0), email_sent_at::text
             FROM enrollment_checklist WHERE enrollment_id = $1 ORDER BY id`,
			enrollmentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		tasks := []ChecklistTask{}
		for rows.Next() {
			var task ChecklistTask
			err := rows.Scan(&task.ID, &task.EnrollmentID, &task.TaskKey, &task.TaskName,
				&task.Completed, &task.CompletedAt, &task.CompletedBy,
				&task.EmailRecipient, &task.EmailSent, &task.EmailSentAt)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		out = tasks
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get checklist for enrollment %d: %w", enrollmentID, err)
	}
	return out, nil
}

// UpdateChecklistTask sets a task's completion state. Completing stamps the
// time and actor; un-completing clears both.
func (s *PostgresStore) UpdateChecklistTask(ctx context.Context, taskID int64, completed bool, completedBy string) error {
	var query string
	var args []any
	if completed {
		query = `UPDATE enrollment_checklist
            SET completed = 1, completed_at = CURRENT_TIMESTAMP, completed_by = $1
            WHERE id = $2`
		args = []any{completedBy, taskID}
	} else {
		query = `UPDATE enrollment_checklist
            SET completed = 0, completed_at = NULL, completed_by = NULL
            WHERE id = $1`
		args = []any{taskID}
	}

	tag, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update checklist task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChecklistEmailRecipient overrides who receives the completion
// notification for one task.
func (s *PostgresStore) SetChecklistEmailRecipient(ctx context.Context, taskID int64, recipient string) error {
	tag, err := s.exec(ctx,
		"UPDATE enrollment_checklist SET email_recipient = $1 WHERE id = $2", recipient, taskID)
	if err != nil {
		return fmt.Errorf("set checklist email recipient %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkChecklistEmailSent records that the completion notification for a task
// went out, so it is not sent again.
func (s *PostgresStore) MarkChecklistEmailSent(ctx context.Context, taskID int64) error {
	tag, err := s.exec(ctx,
		"UPDATE enrollment_checklist SET email_sent = 1, email_sent_at = CURRENT_TIMESTAMP WHERE id = $1", taskID)
	if err != nil {
		return fmt.Errorf("mark checklist email sent %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
