package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// ParticipationSnapshot is what a scoring pass reads, loaded under the
// participation's lock.
type ParticipationSnapshot struct {
	Contest       *model.Contest
	Participation *model.ContestParticipation
	Problems      []model.ContestProblem
	Submissions   []model.ContestSubmission
}

// CommitFunc writes a participation's aggregate in one statement.
type CommitFunc func(ctx context.Context, points, cumtime float64, data model.FormatData) error

// RankedParticipation is a participation joined with its user's name.
type RankedParticipation struct {
	model.ContestParticipation
	Username string
}

type ContestRepository interface {
	CreateContest(ctx context.Context, c *model.Contest) error
	FindContestByID(ctx context.Context, id string) (*model.Contest, error)
	FindContestByKey(ctx context.Context, key string) (*model.Contest, error)

	// SetFormat rebinds the contest's format and clears every participation's
	// aggregate in the same transaction.
	SetFormat(ctx context.Context, contestID, name string, cfg json.RawMessage) error

	AddContestProblem(ctx context.Context, cp *model.ContestProblem) error
	ListContestProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error)

	CreateParticipation(ctx context.Context, p *model.ContestParticipation) error
	FindParticipation(ctx context.Context, contestID, userID string) (*model.ContestParticipation, error)
	FindParticipationByID(ctx context.Context, id string) (*model.ContestParticipation, error)
	ListParticipationIDs(ctx context.Context, contestID string) ([]string, error)

	// ListRanking orders participations by points descending, then cumtime ascending.
	ListRanking(ctx context.Context, contestID string) ([]RankedParticipation, error)

	// WithParticipation runs fn while holding the participation's lock. At most
	// one commit per call is expected.
	WithParticipation(ctx context.Context, participationID string, fn func(ctx context.Context, snap *ParticipationSnapshot, commit CommitFunc) error) error
}

type pgContestRepository struct {
	db *sql.DB
}

func NewPgContestRepository(db *sql.DB) ContestRepository {
	return &pgContestRepository{db: db}
}

const contestColumns = `id, key, name, start_time, end_time, format_name, format_config, created_at`

func scanContest(row interface{ Scan(...any) error }) (*model.Contest, error) {
	c := &model.Contest{}
	var cfg []byte
	if err := row.Scan(&c.ID, &c.Key, &c.Name, &c.StartTime, &c.EndTime, &c.FormatName, &cfg, &c.CreatedAt); err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		c.FormatConfig = json.RawMessage(cfg)
	}
	return c, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *pgContestRepository) CreateContest(ctx context.Context, c *model.Contest) error {
	query := `INSERT INTO contests (id, key, name, start_time, end_time, format_name, format_config)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.Key, c.Name, c.StartTime, c.EndTime, c.FormatName, nullableJSON(c.FormatConfig),
	).Scan(&c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("contest with key %q already exists: %w", c.Key, common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.CreateContest: %w", err)
	}
	return nil
}

func (r *pgContestRepository) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	c, err := scanContest(r.db.QueryRowContext(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindContestByID: %w", err)
	}
	return c, nil
}

func (r *pgContestRepository) FindContestByKey(ctx context.Context, key string) (*model.Contest, error) {
	c, err := scanContest(r.db.QueryRowContext(ctx, `SELECT `+contestColumns+` FROM contests WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindContestByKey: %w", err)
	}
	return c, nil
}

func (r *pgContestRepository) SetFormat(ctx context.Context, contestID, name string, cfg json.RawMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgContestRepository.SetFormat begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE contests SET format_name = $1, format_config = $2 WHERE id = $3`, name, nullableJSON(cfg), contestID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.SetFormat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE contest_participations SET points = 0, cumtime = 0, format_data = '{}'::jsonb WHERE contest_id = $1`,
		contestID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.SetFormat reset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgContestRepository.SetFormat commit: %w", err)
	}
	return nil
}

func (r *pgContestRepository) AddContestProblem(ctx context.Context, cp *model.ContestProblem) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contest_problems (contest_id, problem_id, points, "order") VALUES ($1, $2, $3, $4)`,
		cp.ContestID, cp.ProblemID, cp.Points, cp.Order)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("problem already in contest: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.AddContestProblem: %w", err)
	}
	return nil
}

func listContestProblems(ctx context.Context, q queryer, contestID string) ([]model.ContestProblem, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT cp.contest_id, cp.problem_id, p.code, cp.points, cp."order"
        FROM contest_problems cp JOIN problems p ON p.id = cp.problem_id
        WHERE cp.contest_id = $1
        ORDER BY cp."order", p.code`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []model.ContestProblem
	for rows.Next() {
		var cp model.ContestProblem
		if err := rows.Scan(&cp.ContestID, &cp.ProblemID, &cp.ProblemCode, &cp.Points, &cp.Order); err != nil {
			return nil, err
		}
		problems = append(problems, cp)
	}
	return problems, rows.Err()
}

func (r *pgContestRepository) ListContestProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error) {
	problems, err := listContestProblems(ctx, r.db, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.ListContestProblems: %w", err)
	}
	return problems, nil
}

const participationColumns = `id, contest_id, user_id, points, cumtime, format_data, joined_at`

func scanParticipation(row interface{ Scan(...any) error }, extra ...any) (*model.ContestParticipation, error) {
	p := &model.ContestParticipation{}
	var data []byte
	dest := append([]any{&p.ID, &p.ContestID, &p.UserID, &p.Points, &p.Cumtime, &data, &p.JoinedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &p.FormatData); err != nil {
		return nil, fmt.Errorf("decoding format_data of %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *pgContestRepository) CreateParticipation(ctx context.Context, p *model.ContestParticipation) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO contest_participations (id, contest_id, user_id) VALUES ($1, $2, $3) RETURNING joined_at`,
		p.ID, p.ContestID, p.UserID,
	).Scan(&p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("user already joined the contest: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.CreateParticipation: %w", err)
	}
	if p.FormatData == nil {
		p.FormatData = model.FormatData{}
	}
	return nil
}

func (r *pgContestRepository) FindParticipation(ctx context.Context, contestID, userID string) (*model.ContestParticipation, error) {
	p, err := scanParticipation(r.db.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM contest_participations WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindParticipation: %w", err)
	}
	return p, nil
}

func (r *pgContestRepository) FindParticipationByID(ctx context.Context, id string) (*model.ContestParticipation, error) {
	p, err := scanParticipation(r.db.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM contest_participations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.FindParticipationByID: %w", err)
	}
	return p, nil
}

func (r *pgContestRepository) ListParticipationIDs(ctx context.Context, contestID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM contest_participations WHERE contest_id = $1 ORDER BY joined_at`, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.ListParticipationIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgContestRepository.ListParticipationIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgContestRepository) ListRanking(ctx context.Context, contestID string) ([]RankedParticipation, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT cp.id, cp.contest_id, cp.user_id, cp.points, cp.cumtime, cp.format_data, cp.joined_at, u.username
        FROM contest_participations cp JOIN users u ON u.id = cp.user_id
        WHERE cp.contest_id = $1
        ORDER BY cp.points DESC, cp.cumtime ASC, cp.joined_at ASC`, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.ListRanking: %w", err)
	}
	defer rows.Close()

	var ranking []RankedParticipation
	for rows.Next() {
		var username string
		p, err := scanParticipation(rows, &username)
		if err != nil {
			return nil, fmt.Errorf("pgContestRepository.ListRanking scan: %w", err)
		}
		ranking = append(ranking, RankedParticipation{ContestParticipation: *p, Username: username})
	}
	return ranking, rows.Err()
}

func (r *pgContestRepository) WithParticipation(ctx context.Context, participationID string, fn func(ctx context.Context, snap *ParticipationSnapshot, commit CommitFunc) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgContestRepository.WithParticipation begin: %w", err)
	}
	defer tx.Rollback()

	part, err := scanParticipation(tx.QueryRowContext(ctx,
		`SELECT `+participationColumns+` FROM contest_participations WHERE id = $1 FOR UPDATE`, participationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		return fmt.Errorf("pgContestRepository.WithParticipation lock: %w", err)
	}

	contest, err := scanContest(tx.QueryRowContext(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE id = $1`, part.ContestID))
	if err != nil {
		return fmt.Errorf("pgContestRepository.WithParticipation contest: %w", err)
	}

	problems, err := listContestProblems(ctx, tx, contest.ID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.WithParticipation problems: %w", err)
	}

	subs, err := listContestSubmissions(ctx, tx, participationID)
	if err != nil {
		return fmt.Errorf("pgContestRepository.WithParticipation submissions: %w", err)
	}

	snap := &ParticipationSnapshot{Contest: contest, Participation: part, Problems: problems, Submissions: subs}
	commit := func(ctx context.Context, points, cumtime float64, data model.FormatData) error {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding format_data: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE contest_participations SET points = $1, cumtime = $2, format_data = $3 WHERE id = $4`,
			points, cumtime, string(encoded), participationID)
		if err != nil {
			return fmt.Errorf("pgContestRepository.WithParticipation commit: %w", err)
		}
		part.Points, part.Cumtime, part.FormatData = points, cumtime, data
		return nil
	}

	if err := fn(ctx, snap, commit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgContestRepository.WithParticipation tx commit: %w", err)
	}
	return nil
}

func listContestSubmissions(ctx context.Context, q queryer, participationID string) ([]model.ContestSubmission, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT id, problem_id, status, points, submitted_at, graded_at
        FROM submissions WHERE participation_id = $1
        ORDER BY submitted_at, id`, participationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.ContestSubmission
	for rows.Next() {
		var s model.ContestSubmission
		if err := rows.Scan(&s.SubmissionID, &s.ProblemID, &s.Status, &s.Points, &s.SubmittedAt, &s.GradedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
