package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pavelanni/examgen/internal/model"
)

// InsertExam stores an exam with its questions as one JSON document. A course
// that does not exist is ErrCourseNotFound.
func (s *Store) InsertExam(ctx context.Context, e model.NewExam) (*model.Exam, error) {
	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode questions: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	exam := &model.Exam{
		ID:        uuid.NewString(),
		Name:      e.Name,
		Questions: e.Questions,
		PDFURL:    e.PDFURL,
		CreatedAt: fromMillis(millis(created)),
	}
	var courseID sql.NullString
	if e.CourseID != "" {
		courseID = sql.NullString{String: e.CourseID, Valid: true}
		exam.CourseID = &e.CourseID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exams (id, name, course_id, questions, pdf_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		exam.ID, exam.Name, courseID, string(questions), exam.PDFURL, millis(exam.CreatedAt))
	if err != nil {
		err = classify(err)
		if errors.Is(err, errForeignKey) {
			return nil, fmt.Errorf("course %s: %w", e.CourseID, ErrCourseNotFound)
		}
		return nil, fmt.Errorf("insert exam: %w", err)
	}
	return exam, nil
}

const examColumns = `e.id, e.name, e.course_id, COALESCE(co.name, ''), e.questions, e.pdf_url, e.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(r rowScanner) (*model.Exam, error) {
	var (
		e         model.Exam
		courseID  sql.NullString
		questions string
		created   int64
	)
	if err := r.Scan(&e.ID, &e.Name, &courseID, &e.CourseName, &questions, &e.PDFURL, &created); err != nil {
		return nil, err
	}
	if courseID.Valid {
		e.CourseID = &courseID.String
	}
	if err := json.Unmarshal([]byte(questions), &e.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of exam %s: %w", e.ID, err)
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

// ListExams returns exams newest first. A non-empty courseID filters by course.
func (s *Store) ListExams(ctx context.Context, courseID string) ([]model.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams e LEFT JOIN courses co ON co.id = e.course_id`
	var args []any
	if courseID != "" {
		query += ` WHERE e.course_id = $1`
		args = append(args, courseID)
	}
	query += ` ORDER BY e.created_at DESC, e.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// GetExam returns one exam.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+examColumns+` FROM exams e LEFT JOIN courses co ON co.id = e.course_id WHERE e.id = $1`, id)
	e, err := scanExam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return e, err
}

// DeleteExam removes an exam.
func (s *Store) DeleteExam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "exam "+id)
}
