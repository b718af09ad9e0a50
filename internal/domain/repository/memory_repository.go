package repository

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"tle_zone_judge/internal/common"
	"tle_zone_judge/internal/domain/model"
)

// MemoryStore keeps every repository in process memory. It backs the service
// tests and local runs without Postgres. Row locks are per-key mutexes.
type MemoryStore struct {
	mu sync.RWMutex

	users          map[string]model.User
	judges         map[string]model.Judge
	languages      map[string]model.Language
	problems       map[string]model.Problem
	submissions    map[string]model.Submission
	cases          map[string][]model.SubmissionTestCase
	contests       map[string]model.Contest
	contestProbs   map[string][]model.ContestProblem
	participations map[string]model.ContestParticipation

	submissionLocks    keyedMutex
	participationLocks keyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[string]model.User),
		judges:         make(map[string]model.Judge),
		languages:      make(map[string]model.Language),
		problems:       make(map[string]model.Problem),
		submissions:    make(map[string]model.Submission),
		cases:          make(map[string][]model.SubmissionTestCase),
		contests:       make(map[string]model.Contest),
		contestProbs:   make(map[string][]model.ContestProblem),
		participations: make(map[string]model.ContestParticipation),
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *MemoryStore) Users() UserRepository             { return memUsers{s} }
func (s *MemoryStore) Judges() JudgeRepository           { return memJudges{s} }
func (s *MemoryStore) Problems() ProblemRepository       { return memProblems{s} }
func (s *MemoryStore) Submissions() SubmissionRepository { return memSubmissions{s} }
func (s *MemoryStore) Contests() ContestRepository       { return memContests{s} }

// AddLanguage seeds a language; languages have no write path besides migrations.
func (s *MemoryStore) AddLanguage(l model.Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languages[l.ID] = l
}

type memUsers struct{ s *MemoryStore }

func (r memUsers) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("user with given username already exists: %w", common.ErrConflict)
		}
	}
	u.CreatedAt = time.Now()
	r.s.users[u.ID] = *u
	return nil
}

func (r memUsers) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &u, nil
}

type memJudges struct{ s *MemoryStore }

func (r memJudges) Create(_ context.Context, j *model.Judge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.judges {
		if existing.Name == j.Name {
			return fmt.Errorf("judge %q already exists: %w", j.Name, common.ErrConflict)
		}
	}
	j.CreatedAt = time.Now()
	r.s.judges[j.ID] = *j
	return nil
}

func (r memJudges) FindByName(_ context.Context, name string) (*model.Judge, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, j := range r.s.judges {
		if j.Name == name {
			return &j, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memJudges) MarkConnected(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.judges[id]
	if !ok {
		return common.ErrNotFound
	}
	j.Online = true
	j.LastConnect = &at
	r.s.judges[id] = j
	return nil
}

type memProblems struct{ s *MemoryStore }

func (r memProblems) CreateProblem(_ context.Context, p *model.Problem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.problems {
		if existing.Code == p.Code {
			return fmt.Errorf("problem with this code already exists: %w", common.ErrConflict)
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.s.problems[p.ID] = *p
	return nil
}

func (r memProblems) FindProblemByID(_ context.Context, id string) (*model.Problem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.problems[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &p, nil
}

func (r memProblems) FindProblemByCode(_ context.Context, code string) (*model.Problem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.problems {
		if p.Code == code {
			return &p, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memProblems) ListProblems(_ context.Context, limit, offset int) ([]model.Problem, int, error) {
	r.s.mu.RLock()
	all := slices.SortedFunc(maps.Values(r.s.problems), func(a, b model.Problem) int { return cmp.Compare(a.Code, b.Code) })
	r.s.mu.RUnlock()

	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (r memProblems) GetLanguageByID(_ context.Context, id string) (*model.Language, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.languages[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &l, nil
}

func (r memProblems) ListLanguages(_ context.Context) ([]model.Language, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var langs []model.Language
	for _, l := range r.s.languages {
		if l.IsActive {
			langs = append(langs, l)
		}
	}
	slices.SortFunc(langs, func(a, b model.Language) int { return cmp.Compare(a.Key, b.Key) })
	return langs, nil
}

type memSubmissions struct{ s *MemoryStore }

func (r memSubmissions) CreateSubmission(_ context.Context, sub *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.submissions[sub.ID]; ok {
		return fmt.Errorf("submission %s: %w", sub.ID, common.ErrConflict)
	}
	sub.UpdatedAt = time.Now()
	r.s.submissions[sub.ID] = *sub
	return nil
}

func (r memSubmissions) GetSubmissionByID(_ context.Context, id string) (*model.Submission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &sub, nil
}

func (r memSubmissions) GetSubmissionTestCases(_ context.Context, submissionID string) ([]model.SubmissionTestCase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return slices.Clone(r.s.cases[submissionID]), nil
}

func (r memSubmissions) WithSubmission(ctx context.Context, id string, fn SubmissionMutation) (*model.Submission, error) {
	unlock := r.s.submissionLocks.lock(id)
	defer unlock()

	sub, err := r.GetSubmissionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	cases, _ := r.GetSubmissionTestCases(ctx, id)

	newCases, persist, err := fn(sub, cases)
	if err != nil {
		return nil, err
	}
	if !persist {
		return sub, nil
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub.UpdatedAt = time.Now()
	r.s.submissions[id] = *sub
	r.s.cases[id] = slices.Clone(newCases)
	return sub, nil
}

func (r memSubmissions) ListSubmissionIDsByProblem(_ context.Context, problemID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var subs []model.Submission
	for _, sub := range r.s.submissions {
		if sub.ProblemID == problemID {
			subs = append(subs, sub)
		}
	}
	slices.SortFunc(subs, func(a, b model.Submission) int { return a.SubmittedAt.Compare(b.SubmittedAt) })
	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return ids, nil
}

func (r memSubmissions) UserTotalPoints(_ context.Context, userID string) (float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	best := make(map[string]float64)
	for _, sub := range r.s.submissions {
		if sub.UserID != userID || sub.Points == nil || !sub.Status.IsTerminal() {
			continue
		}
		if cur, ok := best[sub.ProblemID]; !ok || *sub.Points > cur {
			best[sub.ProblemID] = *sub.Points
		}
	}
	var total float64
	for _, problemID := range slices.Sorted(maps.Keys(best)) {
		total += best[problemID]
	}
	return total, nil
}

type memContests struct{ s *MemoryStore }

func (r memContests) CreateContest(_ context.Context, c *model.Contest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.contests {
		if existing.Key == c.Key {
			return fmt.Errorf("contest with key %q already exists: %w", c.Key, common.ErrConflict)
		}
	}
	c.CreatedAt = time.Now()
	r.s.contests[c.ID] = *c
	return nil
}

func (r memContests) FindContestByID(_ context.Context, id string) (*model.Contest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.contests[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &c, nil
}

func (r memContests) FindContestByKey(_ context.Context, key string) (*model.Contest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.contests {
		if c.Key == key {
			return &c, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memContests) SetFormat(_ context.Context, contestID, name string, cfg json.RawMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contests[contestID]
	if !ok {
		return common.ErrNotFound
	}
	c.FormatName = name
	c.FormatConfig = cfg
	r.s.contests[contestID] = c

	for id, p := range r.s.participations {
		if p.ContestID == contestID {
			p.Points, p.Cumtime, p.FormatData = 0, 0, model.FormatData{}
			r.s.participations[id] = p
		}
	}
	return nil
}

func (r memContests) AddContestProblem(_ context.Context, cp *model.ContestProblem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.problems[cp.ProblemID]
	if !ok {
		return common.ErrNotFound
	}
	for _, existing := range r.s.contestProbs[cp.ContestID] {
		if existing.ProblemID == cp.ProblemID {
			return fmt.Errorf("problem already in contest: %w", common.ErrConflict)
		}
	}
	cp.ProblemCode = p.Code
	r.s.contestProbs[cp.ContestID] = append(r.s.contestProbs[cp.ContestID], *cp)
	return nil
}

func (r memContests) ListContestProblems(_ context.Context, contestID string) ([]model.ContestProblem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.listProblemsLocked(contestID), nil
}

func (r memContests) listProblemsLocked(contestID string) []model.ContestProblem {
	problems := slices.Clone(r.s.contestProbs[contestID])
	slices.SortFunc(problems, func(a, b model.ContestProblem) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.ProblemCode, b.ProblemCode))
	})
	return problems
}

func (r memContests) CreateParticipation(_ context.Context, p *model.ContestParticipation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.participations {
		if existing.ContestID == p.ContestID && existing.UserID == p.UserID {
			return fmt.Errorf("user already joined the contest: %w", common.ErrConflict)
		}
	}
	if p.FormatData == nil {
		p.FormatData = model.FormatData{}
	}
	p.JoinedAt = time.Now()
	r.s.participations[p.ID] = *p
	return nil
}

func copyParticipation(p model.ContestParticipation) *model.ContestParticipation {
	p.FormatData = maps.Clone(p.FormatData)
	return &p
}

func (r memContests) FindParticipation(_ context.Context, contestID, userID string) (*model.ContestParticipation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.participations {
		if p.ContestID == contestID && p.UserID == userID {
			return copyParticipation(p), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memContests) FindParticipationByID(_ context.Context, id string) (*model.ContestParticipation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.participations[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return copyParticipation(p), nil
}

func (r memContests) contestParticipationsLocked(contestID string) []model.ContestParticipation {
	var out []model.ContestParticipation
	for _, p := range r.s.participations {
		if p.ContestID == contestID {
			out = append(out, *copyParticipation(p))
		}
	}
	slices.SortFunc(out, func(a, b model.ContestParticipation) int {
		return cmp.Or(a.JoinedAt.Compare(b.JoinedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (r memContests) ListParticipationIDs(_ context.Context, contestID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []string
	for _, p := range r.contestParticipationsLocked(contestID) {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (r memContests) ListRanking(_ context.Context, contestID string) ([]RankedParticipation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ranking []RankedParticipation
	for _, p := range r.contestParticipationsLocked(contestID) {
		ranking = append(ranking, RankedParticipation{ContestParticipation: p, Username: r.s.users[p.UserID].Username})
	}
	slices.SortStableFunc(ranking, func(a, b RankedParticipation) int {
		return cmp.Or(cmp.Compare(b.Points, a.Points), cmp.Compare(a.Cumtime, b.Cumtime))
	})
	return ranking, nil
}

func (r memContests) WithParticipation(ctx context.Context, participationID string, fn func(ctx context.Context, snap *ParticipationSnapshot, commit CommitFunc) error) error {
	unlock := r.s.participationLocks.lock(participationID)
	defer unlock()

	r.s.mu.RLock()
	p, ok := r.s.participations[participationID]
	if !ok {
		r.s.mu.RUnlock()
		return common.ErrNotFound
	}
	contest := r.s.contests[p.ContestID]
	snap := &ParticipationSnapshot{
		Contest:       &contest,
		Participation: copyParticipation(p),
		Problems:      r.listProblemsLocked(p.ContestID),
	}
	for _, sub := range r.s.submissions {
		if sub.ParticipationID != nil && *sub.ParticipationID == participationID {
			snap.Submissions = append(snap.Submissions, model.ContestSubmission{
				SubmissionID: sub.ID,
				ProblemID:    sub.ProblemID,
				Status:       sub.Status,
				Points:       sub.Points,
				SubmittedAt:  sub.SubmittedAt,
				GradedAt:     sub.GradedAt,
			})
		}
	}
	r.s.mu.RUnlock()
	slices.SortFunc(snap.Submissions, func(a, b model.ContestSubmission) int {
		return cmp.Or(a.SubmittedAt.Compare(b.SubmittedAt), cmp.Compare(a.SubmissionID, b.SubmissionID))
	})

	// changes become visible only when fn succeeds, as with a transaction
	var pending *model.ContestParticipation
	commit := func(_ context.Context, points, cumtime float64, data model.FormatData) error {
		next := *snap.Participation
		next.Points, next.Cumtime, next.FormatData = points, cumtime, maps.Clone(data)
		pending = &next
		return nil
	}
	if err := fn(ctx, snap, commit); err != nil {
		return err
	}
	if pending != nil {
		r.s.mu.Lock()
		r.s.participations[participationID] = *pending
		r.s.mu.Unlock()
	}
	return nil
}
