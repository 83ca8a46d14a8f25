package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemsi/proctor-backend/internal/config"
	"github.com/stemsi/proctor-backend/internal/model"
)

func TestEnsureBuiltConcurrentCallersBuildOnce(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t, model.CreateSessionRequest{})

	const callers = 16
	var (
		wg          sync.WaitGroup
		descriptors = make([]*model.SnapshotDescriptor, callers)
		errs        = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			descriptors[i], errs[i] = e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, descriptors[0], descriptors[i])
	}
	require.Equal(t, int32(1), e.snapshots.builds.Load())
	require.Equal(t, 2, descriptors[0].QuestionCount)
	require.Len(t, e.snapshots.rows[s.ID], 2)
}

func TestEnsureBuiltFailsWithoutQuestions(t *testing.T) {
	e := newTestEnv(t)
	quizID := e.quiz()
	questions := e.questions.byQuiz[quizID]
	e.questions.set(quizID, nil)

	s := e.session(t, model.CreateSessionRequest{QuizID: quizID})

	_, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrSnapshotBuildFailed)
	require.Empty(t, e.snapshots.rows[s.ID])

	// The build is side-effect free on failure, so a retry can succeed.
	e.questions.set(quizID, questions)
	d, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, 2, d.QuestionCount)
}

func TestEnsureBuiltFailsOnWriteError(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t, model.CreateSessionRequest{})
	e.snapshots.failWrite = true

	_, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.ErrorIs(t, err, ErrSnapshotBuildFailed)
	require.Empty(t, e.snapshots.rows[s.ID])
}

func TestSnapshotIgnoresLaterPoolEdits(t *testing.T) {
	e := newTestEnv(t)
	quizID := e.quiz()
	s := e.session(t, model.CreateSessionRequest{QuizID: quizID})

	before, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.NoError(t, err)

	edited := e.questions.byQuiz[quizID]
	edited[0].Prompt = "2 + 2 = ? (edited)"
	edited[0].Options[1].IsCorrect = false
	e.questions.set(quizID, edited)

	after, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, before.Checksum, after.Checksum)

	payload, err := e.snapshotSvc.Payload(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "2 + 2 = ?", payload.Questions[0].Prompt)

	key, err := e.snapshotSvc.AnswerKey(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, key[0])
}

func TestDescribeChecksumTracksContent(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t, model.CreateSessionRequest{})
	_, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.NoError(t, err)

	rows := e.snapshots.rows[s.ID]
	a := Describe(s.ID, rows)
	require.Len(t, a.Checksum, 64)
	require.Equal(t, a.Checksum, Describe(s.ID, rows).Checksum)

	changed := append([]model.SnapshotQuestion(nil), rows...)
	changed[1].Prompt = "Pick the odd numbers"
	require.NotEqual(t, a.Checksum, Describe(s.ID, changed).Checksum)
}

func TestPayloadHidesCorrectnessAndSelfHeals(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t, model.CreateSessionRequest{})
	_, err := e.snapshotSvc.EnsureBuilt(context.Background(), s.ID)
	require.NoError(t, err)

	cacheKey := config.CacheKey.SessionSnapshotKey(s.ID.String())
	cached, err := e.mr.Get(cacheKey)
	require.NoError(t, err)
	require.NotContains(t, cached, "is_correct")

	e.mr.Del(cacheKey)
	e.mr.Del(config.CacheKey.SessionAnswerKey(s.ID.String()))

	payload, err := e.snapshotSvc.Payload(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, payload.Questions, 2)
	require.Equal(t, []model.StudentOption{{ID: "a", Content: "3"}, {ID: "b", Content: "4"}}, payload.Questions[0].Options)
	require.True(t, e.mr.Exists(cacheKey))

	key, err := e.snapshotSvc.AnswerKey(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, map[int][]string{0: {"b"}, 1: {"x", "z"}}, key)
}

func TestPayloadBuildsSnapshotOnFirstNeed(t *testing.T) {
	e := newTestEnv(t)
	s := e.session(t, model.CreateSessionRequest{})

	payload, err := e.snapshotSvc.Payload(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, payload.Questions, 2)
	require.Equal(t, int32(1), e.snapshots.builds.Load())
}
