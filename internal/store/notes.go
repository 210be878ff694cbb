package store

import (
	"context"
	"fmt"
	"strings"
)

func (s *SQLStore) AddNote(ctx context.Context, feedbackID int64, author, body string) (Note, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		author = "admin"
	}
	createdAt := now().UTC()
	note := Note{FeedbackID: feedbackID, Author: author, Body: body}
	err := s.queryRow(ctx, `
		INSERT INTO feedback_notes (feedback_id, author, body, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, feedbackID, author, body, formatTime(createdAt)).Scan(&note.ID)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	note.CreatedAt = parseTime(formatTime(createdAt))
	return note, nil
}

func (s *SQLStore) ListNotes(ctx context.Context, feedbackID int64) ([]Note, error) {
	rows, err := s.query(ctx, `
		SELECT id, feedback_id, author, body, created_at
		FROM feedback_notes
		WHERE feedback_id = ?
		ORDER BY created_at, id
	`, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		var note Note
		var createdAt string
		if err := rows.Scan(&note.ID, &note.FeedbackID, &note.Author, &note.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		note.CreatedAt = parseTime(createdAt)
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

func (s *SQLStore) DeleteNote(ctx context.Context, feedbackID, noteID int64) (bool, error) {
	result, err := s.exec(ctx, `DELETE FROM feedback_notes WHERE id = ? AND feedback_id = ?`, noteID, feedbackID)
	if err != nil {
		return false, fmt.Errorf("delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete note rows: %w", err)
	}
	return affected > 0, nil
}
