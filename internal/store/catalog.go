package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/examgen/internal/model"
)

// ListCareers returns all careers by name with the number of linked courses.
func (s *Store) ListCareers(ctx context.Context) ([]model.Career, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.created_at, COUNT(cc.course_id)
		 FROM careers c LEFT JOIN course_careers cc ON cc.career_id = c.id
		 GROUP BY c.id, c.name, c.created_at
		 ORDER BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	careers := []model.Career{}
	for rows.Next() {
		var c model.Career
		var created int64
		if err := rows.Scan(&c.ID, &c.Name, &created, &c.CoursesCount); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(created)
		careers = append(careers, c)
	}
	return careers, rows.Err()
}

// CreateCareer inserts a career. A duplicate name is ErrConflict.
func (s *Store) CreateCareer(ctx context.Context, name string) (*model.Career, error) {
	c := model.Career{ID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: fromMillis(millis(s.now()))}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO careers (id, name, created_at) VALUES ($1, $2, $3)`,
		c.ID, c.Name, millis(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create career: %w", classify(err))
	}
	return &c, nil
}

// RenameCareer changes the name of a career.
func (s *Store) RenameCareer(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE careers SET name = $1 WHERE id = $2`, strings.TrimSpace(name), id)
	if err != nil {
		return fmt.Errorf("rename career: %w", classify(err))
	}
	return checkAffected(res, "career "+id)
}

// DeleteCareer removes a career that no course refers to.
func (s *Store) DeleteCareer(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM course_careers WHERE career_id = $1`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("career %s has %d courses: %w", id, n, ErrInUse)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM careers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete career: %w", classify(err))
	}
	if err := checkAffected(res, "career "+id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListCourses returns courses by name with their exam counts and careers.
// A non-empty careerID keeps only the courses linked to that career.
func (s *Store) ListCourses(ctx context.Context, careerID string) ([]model.Course, error) {
	query := `SELECT co.id, co.name, co.created_at,
		(SELECT COUNT(*) FROM exams e WHERE e.course_id = co.id)
		FROM courses co`
	var args []any
	if careerID != "" {
		query += ` WHERE EXISTS (SELECT 1 FROM course_careers cc WHERE cc.course_id = co.id AND cc.career_id = $1)`
		args = append(args, careerID)
	}
	query += ` ORDER BY co.name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	courses := []model.Course{}
	index := make(map[string]int)
	for rows.Next() {
		var c model.Course
		var created int64
		if err := rows.Scan(&c.ID, &c.Name, &created, &c.ExamsCount); err != nil {
			rows.Close()
			return nil, err
		}
		c.CreatedAt = fromMillis(created)
		c.Careers = []model.Career{}
		index[c.ID] = len(courses)
		courses = append(courses, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := s.db.QueryContext(ctx,
		`SELECT cc.course_id, ca.id, ca.name, ca.created_at
		 FROM course_careers cc JOIN careers ca ON ca.id = cc.career_id
		 ORDER BY ca.name`)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var courseID string
		var ca model.Career
		var created int64
		if err := links.Scan(&courseID, &ca.ID, &ca.Name, &created); err != nil {
			return nil, err
		}
		ca.CreatedAt = fromMillis(created)
		if i, ok := index[courseID]; ok {
			courses[i].Careers = append(courses[i].Careers, ca)
		}
	}
	return courses, links.Err()
}

// GetCourse returns a course with its careers.
func (s *Store) GetCourse(ctx context.Context, id string) (*model.Course, error) {
	var c model.Course
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT co.id, co.name, co.created_at,
		 (SELECT COUNT(*) FROM exams e WHERE e.course_id = co.id)
		 FROM courses co WHERE co.id = $1`, id,
	).Scan(&c.ID, &c.Name, &created, &c.ExamsCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromMillis(created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT ca.id, ca.name, ca.created_at
		 FROM course_careers cc JOIN careers ca ON ca.id = cc.career_id
		 WHERE cc.course_id = $1 ORDER BY ca.name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	c.Careers = []model.Career{}
	for rows.Next() {
		var ca model.Career
		if err := rows.Scan(&ca.ID, &ca.Name, &created); err != nil {
			return nil, err
		}
		ca.CreatedAt = fromMillis(created)
		c.Careers = append(c.Careers, ca)
	}
	return &c, rows.Err()
}

// FindCourse returns the course or nil when it does not exist.
func (s *Store) FindCourse(ctx context.Context, id string) (*model.Course, error) {
	c, err := s.GetCourse(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// CreateCourse inserts a course linked to the given careers. An unknown
// career is ErrNotFound.
func (s *Store) CreateCourse(ctx context.Context, in model.CourseInput) (*model.Course, error) {
	id := uuid.NewString()
	created := millis(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO courses (id, name, created_at) VALUES ($1, $2, $3)`,
		id, strings.TrimSpace(in.Name), created); err != nil {
		return nil, fmt.Errorf("create course: %w", classify(err))
	}
	if err := linkCareers(ctx, tx, id, in.CareerIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetCourse(ctx, id)
}

// UpdateCourse renames a course and replaces its career links.
func (s *Store) UpdateCourse(ctx context.Context, id string, in model.CourseInput) (*model.Course, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE courses SET name = $1 WHERE id = $2`, strings.TrimSpace(in.Name), id)
	if err != nil {
		return nil, fmt.Errorf("update course: %w", classify(err))
	}
	if err := checkAffected(res, "course "+id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM course_careers WHERE course_id = $1`, id); err != nil {
		return nil, err
	}
	if err := linkCareers(ctx, tx, id, in.CareerIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetCourse(ctx, id)
}

func linkCareers(ctx context.Context, tx *sql.Tx, courseID string, careerIDs []string) error {
	seen := make(map[string]bool, len(careerIDs))
	for _, cid := range careerIDs {
		if seen[cid] {
			continue
		}
		seen[cid] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO course_careers (course_id, career_id) VALUES ($1, $2)`, courseID, cid)
		if err == nil {
			continue
		}
		if err = classify(err); errors.Is(err, errForeignKey) {
			return fmt.Errorf("career %s: %w", cid, ErrNotFound)
		}
		return fmt.Errorf("link career: %w", err)
	}
	return nil
}

// DeleteCourse removes a course that has no exams.
func (s *Store) DeleteCourse(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams WHERE course_id = $1`, id).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("course %s has %d exams: %w", id, n, ErrInUse)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", classify(err))
	}
	if err := checkAffected(res, "course "+id); err != nil {
		return err
	}
	return tx.Commit()
}
