package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proctor-backend/internal/model"
)

// QuestionRepository reads the live, editable question pool.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// SelectForQuiz applies a quiz's selection rules: active questions in quiz
// order, or a random subset when the quiz randomizes, capped at question_count.
func (r *QuestionRepository) SelectForQuiz(ctx context.Context, quizID uuid.UUID) ([]model.SelectedQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_type, q.prompt, q.options
		 FROM quiz_questions qq
		 JOIN quizzes z ON z.id = qq.quiz_id
		 JOIN questions q ON q.id = qq.question_id
		 WHERE qq.quiz_id = $1 AND q.active
		 ORDER BY CASE WHEN z.randomize_questions THEN random() ELSE qq.position::float8 END
		 LIMIT (SELECT NULLIF(question_count, 0) FROM quizzes WHERE id = $1)`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selected []model.SelectedQuestion
	for rows.Next() {
		var (
			q       model.SelectedQuestion
			options []byte
		)
		if err := rows.Scan(&q.QuestionID, &q.Type, &q.Prompt, &options); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %s: %w", q.QuestionID, err)
		}
		sort.SliceStable(q.Options, func(i, j int) bool { return q.Options[i].Order < q.Options[j].Order })
		selected = append(selected, q)
	}
	return selected, rows.Err()
}
