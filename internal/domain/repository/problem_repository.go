package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type ProblemRepository interface {
	CreateProblem(ctx context.Context, problem *model.Problem) error
	FindProblemByID(ctx context.Context, id string) (*model.Problem, error)
	FindProblemByCode(ctx context.Context, code string) (*model.Problem, error)
	ListProblems(ctx context.Context, limit, offset int) ([]model.Problem, int, error)

	GetLanguageByID(ctx context.Context, id string) (*model.Language, error)
	ListLanguages(ctx context.Context) ([]model.Language, error)
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

const problemColumns = `id, code, name, description, points, partial, short_circuit,
        time_limit_ms, memory_limit_kb, created_at, updated_at`

func scanProblem(row interface{ Scan(...any) error }, p *model.Problem) error {
	return row.Scan(
		&p.ID, &p.Code, &p.Name, &p.Description, &p.Points, &p.Partial, &p.ShortCircuit,
		&p.TimeLimitMs, &p.MemoryLimitKb, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *pgProblemRepository) CreateProblem(ctx context.Context, p *model.Problem) error {
	query := `INSERT INTO problems (id, code, name, description, points, partial, short_circuit, time_limit_ms, memory_limit_kb)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		p.ID, p.Code, p.Name, p.Description, p.Points, p.Partial, p.ShortCircuit, p.TimeLimitMs, p.MemoryLimitKb,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique constraint for code
			return fmt.Errorf("problem with this code already exists: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgProblemRepository.CreateProblem: %w", err)
	}
	return nil
}

func (r *pgProblemRepository) FindProblemByID(ctx context.Context, id string) (*model.Problem, error) {
	p := &model.Problem{}
	err := scanProblem(r.db.QueryRowContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE id = $1`, id), p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblemByID: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) FindProblemByCode(ctx context.Context, code string) (*model.Problem, error) {
	p := &model.Problem{}
	err := scanProblem(r.db.QueryRowContext(ctx, `SELECT `+problemColumns+` FROM problems WHERE code = $1`, code), p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblemByCode: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) ListProblems(ctx context.Context, limit, offset int) ([]model.Problem, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+problemColumns+` FROM problems ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems: %w", err)
	}
	defer rows.Close()

	var problems []model.Problem
	for rows.Next() {
		var p model.Problem
		if err := scanProblem(rows, &p); err != nil {
			return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems scan: %w", err)
		}
		problems = append(problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgProblemRepository.ListProblems rows: %w", err)
	}
	return problems, total, nil
}

func (r *pgProblemRepository) GetLanguageByID(ctx context.Context, id string) (*model.Language, error) {
	l := &model.Language{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, key, name, is_active, created_at FROM languages WHERE id = $1`, id,
	).Scan(&l.ID, &l.Key, &l.Name, &l.IsActive, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgProblemRepository.GetLanguageByID: %w", err)
	}
	return l, nil
}

func (r *pgProblemRepository) ListLanguages(ctx context.Context) ([]model.Language, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key, name, is_active, created_at FROM languages WHERE is_active ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.ListLanguages: %w", err)
	}
	defer rows.Close()

	var langs []model.Language
	for rows.Next() {
		var l model.Language
		if err := rows.Scan(&l.ID, &l.Key, &l.Name, &l.IsActive, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgProblemRepository.ListLanguages scan: %w", err)
		}
		langs = append(langs, l)
	}
	return langs, rows.Err()
}
