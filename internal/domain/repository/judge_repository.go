package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type JudgeRepository interface {
	Create(ctx context.Context, judge *model.Judge) error
	FindByName(ctx context.Context, name string) (*model.Judge, error)
	MarkConnected(ctx context.Context, id string, at time.Time) error
}

type pgJudgeRepository struct {
	db *sql.DB
}

func NewPgJudgeRepository(db *sql.DB) JudgeRepository {
	return &pgJudgeRepository{db: db}
}

func (r *pgJudgeRepository) Create(ctx context.Context, j *model.Judge) error {
	query := `INSERT INTO judges (id, name, auth_key_hash)
	          VALUES ($1, $2, $3)
	          RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, j.ID, j.Name, j.AuthKeyHash).Scan(&j.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("judge %q already exists: %w", j.Name, common.ErrConflict)
		}
		return fmt.Errorf("pgJudgeRepository.Create: %w", err)
	}
	return nil
}

func (r *pgJudgeRepository) FindByName(ctx context.Context, name string) (*model.Judge, error) {
	query := `SELECT id, name, auth_key_hash, online, last_connect, created_at
	          FROM judges WHERE name = $1`
	j := &model.Judge{}
	var lastConnect sql.NullTime
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&j.ID, &j.Name, &j.AuthKeyHash, &j.Online, &lastConnect, &j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgJudgeRepository.FindByName: %w", err)
	}
	if lastConnect.Valid {
		j.LastConnect = &lastConnect.Time
	}
	return j, nil
}

func (r *pgJudgeRepository) MarkConnected(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE judges SET online = TRUE, last_connect = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("pgJudgeRepository.MarkConnected: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}
