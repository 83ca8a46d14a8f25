package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctor-backend/internal/attempt"
	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/model"
	"github.com/stemsi/proctor-backend/internal/repository"
)

// ─── Sessions ───────────────────────────────────────────────────────

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[uuid.UUID]model.Session)}
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New()
	s.Status = model.SessionStatusLobby
	s.CreatedAt = time.Now()
	f.byID[s.ID] = *s
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSessions) Activate(_ context.Context, id uuid.UUID, now time.Time) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok || s.Status == model.SessionStatusEnded {
		return nil, repository.ErrConflict
	}
	s.Status = model.SessionStatusActive
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	f.byID[id] = s
	return &s, nil
}

func (f *fakeSessions) End(_ context.Context, id uuid.UUID, now time.Time) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok || s.Status != model.SessionStatusActive {
		return nil, repository.ErrConflict
	}
	s.Status = model.SessionStatusEnded
	s.EndedAt = &now
	f.byID[id] = s
	return &s, nil
}

// ─── Attempts ───────────────────────────────────────────────────────

type fakeAttempts struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]model.Attempt
	logs   []model.CheckpointLog
	nextID int64
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{byID: make(map[uuid.UUID]model.Attempt)}
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (f *fakeAttempts) GetOrCreate(_ context.Context, sessionID uuid.UUID, participantID int) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.SessionID == sessionID && a.ParticipantID == participantID {
			return &a, nil
		}
	}
	a := model.Attempt{
		ID:            uuid.New(),
		SessionID:     sessionID,
		ParticipantID: participantID,
		Status:        model.AttemptStatusActive,
		CreatedAt:     time.Now(),
	}
	f.byID[a.ID] = a
	return &a, nil
}

func (f *fakeAttempts) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.byID {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

// Update mirrors the repository: fn runs on a private copy that is only
// stored when fn succeeds, and the log row commits with it.
func (f *fakeAttempts) Update(
	_ context.Context,
	id uuid.UUID,
	fn func(a *model.Attempt) (repository.AttemptMutation, error),
) (*model.Attempt, *model.CheckpointLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[id]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}

	a := stored
	m, err := fn(&a)
	if err != nil {
		return nil, nil, err
	}
	if m.Changed {
		a.Version++
		f.byID[id] = a
	}
	if m.Log != nil {
		f.nextID++
		m.Log.ID = f.nextID
		m.Log.AttemptID = id
		f.logs = append(f.logs, *m.Log)
	}
	return &a, m.Log, nil
}

func (f *fakeAttempts) logsFor(id uuid.UUID) []model.CheckpointLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CheckpointLog
	for _, l := range f.logs {
		if l.AttemptID == id {
			out = append(out, l)
		}
	}
	return out
}

// ─── Snapshot ───────────────────────────────────────────────────────

type fakeSnapshots struct {
	mu        sync.Mutex
	locks     map[uuid.UUID]*sync.Mutex
	rows      map[uuid.UUID][]model.SnapshotQuestion
	builds    atomic.Int32
	failWrite bool
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		locks: make(map[uuid.UUID]*sync.Mutex),
		rows:  make(map[uuid.UUID][]model.SnapshotQuestion),
	}
}

func (f *fakeSnapshots) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.SnapshotQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SnapshotQuestion(nil), f.rows[sessionID]...), nil
}

func (f *fakeSnapshots) BuildOnce(
	ctx context.Context,
	sessionID uuid.UUID,
	build func(ctx context.Context) ([]model.SnapshotQuestion, error),
) ([]model.SnapshotQuestion, bool, error) {
	f.mu.Lock()
	lock, ok := f.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[sessionID] = lock
	}
	f.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if existing, _ := f.ListBySession(ctx, sessionID); len(existing) > 0 {
		return existing, false, nil
	}

	rows, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	if f.failWrite {
		return nil, false, errors.New("copy from: connection reset")
	}

	f.mu.Lock()
	f.rows[sessionID] = rows
	f.mu.Unlock()
	f.builds.Add(1)
	return rows, true, nil
}

// ─── Question source ────────────────────────────────────────────────

type fakeQuestions struct {
	mu       sync.Mutex
	byQuiz   map[uuid.UUID][]model.SelectedQuestion
	selected atomic.Int32
}

func newFakeQuestions() *fakeQuestions {
	return &fakeQuestions{byQuiz: make(map[uuid.UUID][]model.SelectedQuestion)}
}

func (f *fakeQuestions) SelectForQuiz(_ context.Context, quizID uuid.UUID) ([]model.SelectedQuestion, error) {
	f.selected.Add(1)
	// Widen the race window for concurrent builders.
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.byQuiz[quizID]
	out := make([]model.SelectedQuestion, len(src))
	for i, q := range src {
		q.Options = append([]model.SnapshotOption(nil), q.Options...)
		out[i] = q
	}
	return out, nil
}

func (f *fakeQuestions) set(quizID uuid.UUID, questions []model.SelectedQuestion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byQuiz[quizID] = questions
}

// ─── Persisted answers ──────────────────────────────────────────────

type fakeAnswerStore struct {
	mu        sync.Mutex
	byAttempt map[uuid.UUID]map[string]string
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{byAttempt: make(map[uuid.UUID]map[string]string)}
}

func (f *fakeAnswerStore) ListByAttempt(_ context.Context, attemptID uuid.UUID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.byAttempt[attemptID]))
	for k, v := range f.byAttempt[attemptID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAnswerStore) put(attemptID uuid.UUID, position, optionIDs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byAttempt[attemptID] == nil {
		f.byAttempt[attemptID] = make(map[string]string)
	}
	f.byAttempt[attemptID][position] = optionIDs
}

// ─── Monitor + logs ─────────────────────────────────────────────────

type fakeMonitorStore struct{}

func (fakeMonitorStore) AnsweredCounts(context.Context, uuid.UUID) (map[uuid.UUID]int64, error) {
	return map[uuid.UUID]int64{}, nil
}

func (fakeMonitorStore) FailedCheckpointCounts(context.Context, uuid.UUID) (map[uuid.UUID]int64, error) {
	return map[uuid.UUID]int64{}, nil
}

type fakeLogStore struct {
	attempts *fakeAttempts
	limits   []int
}

func (f *fakeLogStore) ListBySession(_ context.Context, sessionID uuid.UUID, limit int) ([]model.CheckpointLog, error) {
	f.limits = append(f.limits, limit)

	f.attempts.mu.Lock()
	defer f.attempts.mu.Unlock()
	var out []model.CheckpointLog
	for i := len(f.attempts.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := f.attempts.logs[i]
		a := f.attempts.byID[l.AttemptID]
		if a.SessionID != sessionID {
			continue
		}
		l.ParticipantID = a.ParticipantID
		out = append(out, l)
	}
	return out, nil
}

// ─── Environment ────────────────────────────────────────────────────

const (
	teacherID     = 7
	participantID = 101
)

type testEnv struct {
	at        time.Time
	cfg       *config.Config
	mr        *miniredis.Miniredis
	rdb       *redis.Client
	sessions  *fakeSessions
	attempts  *fakeAttempts
	answers   *fakeAnswerStore
	snapshots *fakeSnapshots
	questions *fakeQuestions

	snapshotSvc *SnapshotService
	monitorSvc  *MonitorService
	attemptSvc  *AttemptService
	sessionSvc  *SessionService
	exportSvc   *ExportService
	logStore    *fakeLogStore
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
		Checkpoint: config.CheckpointConfig{
			DefaultStepSeconds: 45,
			IntervalSteps:      1,
			VerifyWindow:       1,
			Grace:              5 * time.Second,
		},
		Lockout: config.LockoutConfig{
			FailThreshold:    3,
			Cooldown:         30 * time.Second,
			EscalateCooldown: true,
			MaxCooldowns:     2,
		},
		SnapshotCacheTTL: time.Hour,
		ExportMaxRows:    100,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &testEnv{
		at:        time.Unix(1_700_000_010, 0).UTC(),
		cfg:       testConfig(),
		mr:        mr,
		rdb:       rdb,
		sessions:  newFakeSessions(),
		attempts:  newFakeAttempts(),
		answers:   newFakeAnswerStore(),
		snapshots: newFakeSnapshots(),
		questions: newFakeQuestions(),
	}
	log := zerolog.Nop()

	e.snapshotSvc = NewSnapshotService(e.snapshots, e.sessions, e.questions, rdb, e.cfg.SnapshotCacheTTL, log)
	e.snapshotSvc.now = e.clock
	e.monitorSvc = NewMonitorService(fakeMonitorStore{}, e.attempts, rdb, attempt.PolicyFromConfig(e.cfg.Checkpoint, e.cfg.Lockout), log)
	e.attemptSvc = NewAttemptService(e.attempts, e.sessions, e.answers, e.snapshotSvc, e.monitorSvc, rdb, e.cfg, log)
	e.attemptSvc.now = e.clock
	e.sessionSvc = NewSessionService(e.sessions, e.attempts, e.snapshotSvc, e.monitorSvc, e.cfg, log)
	e.sessionSvc.now = e.clock
	e.logStore = &fakeLogStore{attempts: e.attempts}
	e.exportSvc = NewExportService(e.sessionSvc, e.logStore, e.cfg.ExportMaxRows)
	return e
}

func (e *testEnv) clock() time.Time { return e.at }

func (e *testEnv) advance(d time.Duration) { e.at = e.at.Add(d) }

// quiz registers two questions; position 0 is single choice, position 1 multiple choice.
func (e *testEnv) quiz() uuid.UUID {
	quizID := uuid.New()
	e.questions.set(quizID, []model.SelectedQuestion{
		{
			QuestionID: uuid.New(),
			Type:       model.QuestionTypeSingleChoice,
			Prompt:     "2 + 2 = ?",
			Options: []model.SnapshotOption{
				{ID: "a", Content: "3", Order: 0},
				{ID: "b", Content: "4", IsCorrect: true, Order: 1},
			},
		},
		{
			QuestionID: uuid.New(),
			Type:       model.QuestionTypeMultipleChoice,
			Prompt:     "Pick the primes",
			Options: []model.SnapshotOption{
				{ID: "x", Content: "2", IsCorrect: true, Order: 0},
				{ID: "y", Content: "4", Order: 1},
				{ID: "z", Content: "5", IsCorrect: true, Order: 2},
			},
		},
	})
	return quizID
}

// session creates a session over a fresh quiz and returns it in the lobby.
func (e *testEnv) session(t *testing.T, req model.CreateSessionRequest) *model.Session {
	t.Helper()
	if req.QuizID == uuid.Nil {
		req.QuizID = e.quiz()
	}
	s, err := e.sessionSvc.CreateSession(context.Background(), teacherID, req)
	require.NoError(t, err)
	return s
}

// activeSession creates and starts a session.
func (e *testEnv) activeSession(t *testing.T, req model.CreateSessionRequest) *model.Session {
	t.Helper()
	s := e.session(t, req)
	_, err := e.sessionSvc.StartSession(context.Background(), s.ID, teacherID)
	require.NoError(t, err)
	got, err := e.sessions.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	return got
}

func (e *testEnv) join(t *testing.T, sessionID uuid.UUID) *model.Attempt {
	t.Helper()
	a, err := e.sessionSvc.JoinSession(context.Background(), sessionID, participantID)
	require.NoError(t, err)
	return a
}

func (e *testEnv) stored(t *testing.T, id uuid.UUID) *model.Attempt {
	t.Helper()
	a, err := e.attempts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}
