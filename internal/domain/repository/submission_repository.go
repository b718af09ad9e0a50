package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
)

// SubmissionMutation edits a locked submission and its case rows. It returns
// the case set to store and whether anything needs to be written.
type SubmissionMutation func(sub *model.Submission, cases []model.SubmissionTestCase) ([]model.SubmissionTestCase, bool, error)

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error)
	GetSubmissionTestCases(ctx context.Context, submissionID string) ([]model.SubmissionTestCase, error)

	// WithSubmission runs fn while holding the submission's row lock, so
	// concurrent judge reports for one submission apply one at a time. It
	// returns the submission as stored afterwards.
	WithSubmission(ctx context.Context, id string, fn SubmissionMutation) (*model.Submission, error)

	ListSubmissionIDsByProblem(ctx context.Context, problemID string) ([]string, error)
	UserTotalPoints(ctx context.Context, userID string) (float64, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

const submissionColumns = `id, user_id, problem_id, participation_id, language_id, source, status, result,
        time, memory, points, error, judged_by, submitted_at, graded_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	s := &model.Submission{}
	var result sql.NullString
	err := row.Scan(
		&s.ID, &s.UserID, &s.ProblemID, &s.ParticipationID, &s.LanguageID, &s.Source, &s.Status, &result,
		&s.Time, &s.Memory, &s.Points, &s.Error, &s.JudgedBy, &s.SubmittedAt, &s.GradedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		res := model.Result(result.String)
		s.Result = &res
	}
	return s, nil
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, s *model.Submission) error {
	query := `INSERT INTO submissions (id, user_id, problem_id, participation_id, language_id, source, status, submitted_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.UserID, s.ProblemID, s.ParticipationID, s.LanguageID, s.Source, s.Status, s.SubmittedAt,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionByID: %w", err)
	}
	return s, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listTestCases(ctx context.Context, q queryer, submissionID string) ([]model.SubmissionTestCase, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT submission_id, "case", result, time, memory, points, total
		 FROM submission_test_cases WHERE submission_id = $1 ORDER BY "case"`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []model.SubmissionTestCase
	for rows.Next() {
		var c model.SubmissionTestCase
		if err := rows.Scan(&c.SubmissionID, &c.Case, &c.Result, &c.Time, &c.Memory, &c.Points, &c.Total); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (r *pgSubmissionRepository) GetSubmissionTestCases(ctx context.Context, submissionID string) ([]model.SubmissionTestCase, error) {
	cases, err := listTestCases(ctx, r.db, submissionID)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionTestCases: %w", err)
	}
	return cases, nil
}

func (r *pgSubmissionRepository) WithSubmission(ctx context.Context, id string, fn SubmissionMutation) (*model.Submission, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission begin: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	sub, err := scanSubmission(tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission lock: %w", err)
	}

	cases, err := listTestCases(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission cases: %w", err)
	}

	newCases, persist, err := fn(sub, cases)
	if err != nil {
		return nil, err
	}
	if !persist {
		return sub, nil
	}

	err = tx.QueryRowContext(ctx, `
        UPDATE submissions SET status = $1, result = $2, time = $3, memory = $4, points = $5,
               error = $6, judged_by = $7, graded_at = $8, updated_at = CURRENT_TIMESTAMP
        WHERE id = $9
        RETURNING updated_at`,
		sub.Status, sub.Result, sub.Time, sub.Memory, sub.Points, sub.Error, sub.JudgedBy, sub.GradedAt, sub.ID,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_test_cases WHERE submission_id = $1`, id); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission clear cases: %w", err)
	}
	for _, c := range newCases {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO submission_test_cases (submission_id, "case", result, time, memory, points, total)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, c.Case, c.Result, c.Time, c.Memory, c.Points, c.Total)
		if err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission insert case %d: %w", c.Case, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.WithSubmission commit: %w", err)
	}
	return sub, nil
}

func (r *pgSubmissionRepository) ListSubmissionIDsByProblem(ctx context.Context, problemID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM submissions WHERE problem_id = $1 ORDER BY submitted_at`, problemID)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListSubmissionIDsByProblem: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.ListSubmissionIDsByProblem scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserTotalPoints sums the user's best graded points on every problem.
func (r *pgSubmissionRepository) UserTotalPoints(ctx context.Context, userID string) (float64, error) {
	query := `
        SELECT COALESCE(SUM(best), 0) FROM (
            SELECT MAX(points) AS best FROM submissions
            WHERE user_id = $1 AND points IS NOT NULL AND status NOT IN ('QU', 'C', 'G')
            GROUP BY problem_id
        ) per_problem`
	var total float64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("pgSubmissionRepository.UserTotalPoints: %w", err)
	}
	return total, nil
}
