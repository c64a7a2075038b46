package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// RobotRepo handles robots and their knowledge-base bindings, replacing
// the teacher's single-persona-per-tenant shape with a many-robots,
// many-knowledge-bases join.
type RobotRepo struct {
	pool *pgxpool.Pool
}

func NewRobotRepo(pool *pgxpool.Pool) *RobotRepo {
	return &RobotRepo{pool: pool}
}

func (r *RobotRepo) Create(ctx context.Context, robot *model.Robot) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO robots (user_id, name, chat_llm_id, rerank_llm_id, enable_rerank, top_k, temperature, max_tokens, system_prompt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		robot.UserID, robot.Name, robot.ChatLLMID, robot.RerankLLMID, robot.EnableRerank,
		robot.TopK, robot.Temperature, robot.MaxTokens, robot.SystemPrompt,
	).Scan(&robot.ID, &robot.CreatedAt, &robot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.RobotRepo.Create: %w", err)
	}
	return nil
}

func (r *RobotRepo) GetByID(ctx context.Context, id string) (*model.Robot, error) {
	robot := &model.Robot{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, chat_llm_id, rerank_llm_id, enable_rerank, top_k, temperature, max_tokens, system_prompt, created_at, updated_at
		FROM robots WHERE id = $1`, id,
	).Scan(&robot.ID, &robot.UserID, &robot.Name, &robot.ChatLLMID, &robot.RerankLLMID, &robot.EnableRerank,
		&robot.TopK, &robot.Temperature, &robot.MaxTokens, &robot.SystemPrompt, &robot.CreatedAt, &robot.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository.RobotRepo.GetByID: %w", err)
	}
	return robot, nil
}

func (r *RobotRepo) ListByUser(ctx context.Context, userID string) ([]model.Robot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, name, chat_llm_id, rerank_llm_id, enable_rerank, top_k, temperature, max_tokens, system_prompt, created_at, updated_at
		FROM robots WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository.RobotRepo.ListByUser: %w", err)
	}
	defer rows.Close()

	var out []model.Robot
	for rows.Next() {
		var robot model.Robot
		if err := rows.Scan(&robot.ID, &robot.UserID, &robot.Name, &robot.ChatLLMID, &robot.RerankLLMID, &robot.EnableRerank,
			&robot.TopK, &robot.Temperature, &robot.MaxTokens, &robot.SystemPrompt, &robot.CreatedAt, &robot.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.RobotRepo.ListByUser: scan: %w", err)
		}
		out = append(out, robot)
	}
	return out, nil
}

func (r *RobotRepo) BindKnowledge(ctx context.Context, robotID, knowledgeID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO robot_knowledge (robot_id, knowledge_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, robotID, knowledgeID)
	if err != nil {
		return fmt.Errorf("repository.RobotRepo.BindKnowledge: %w", err)
	}
	return nil
}

func (r *RobotRepo) UnbindKnowledge(ctx context.Context, robotID, knowledgeID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM robot_knowledge WHERE robot_id = $1 AND knowledge_id = $2`, robotID, knowledgeID)
	if err != nil {
		return fmt.Errorf("repository.RobotRepo.UnbindKnowledge: %w", err)
	}
	return nil
}

// KnowledgeIDs returns the knowledge bases bound to a robot, in the
// order they were bound — retrieval fans out across all of them.
func (r *RobotRepo) KnowledgeIDs(ctx context.Context, robotID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT knowledge_id FROM robot_knowledge WHERE robot_id = $1 ORDER BY knowledge_id`, robotID)
	if err != nil {
		return nil, fmt.Errorf("repository.RobotRepo.KnowledgeIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository.RobotRepo.KnowledgeIDs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
