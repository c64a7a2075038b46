package repository

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedDefaults holds the bootstrap values Seed writes on an empty
// database.
type SeedDefaults struct {
	AdminUsername  string
	AdminEmail     string
	AdminPassword  string
	EmbedLLMName   string
	EmbedProvider  string
	EmbedModelName string
	ChunkSize      int
	ChunkOverlap   int
}

// Seed idempotently creates the default admin, default embedding LLM,
// and default knowledge base when absent, so a fresh deployment can
// ingest and retrieve without any manual setup.
func Seed(ctx context.Context, pool *pgxpool.Pool, d SeedDefaults) error {
	users := NewUserRepo(pool)
	llms := NewLLMRepo(pool)
	knowledge := NewKnowledgeRepo(pool)

	if d.AdminPassword == "" {
		d.AdminPassword = "admin123456"
		slog.Warn("[SEED] ADMIN_PASSWORD not set, using the default — change it")
	}

	admin, err := users.GetByUsername(ctx, d.AdminUsername)
	if err != nil {
		return fmt.Errorf("repository.Seed: lookup admin: %w", err)
	}
	if admin == nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(d.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("repository.Seed: hash admin password: %w", err)
		}
		admin = &model.User{
			Username:     d.AdminUsername,
			Email:        d.AdminEmail,
			PasswordHash: string(hash),
			Role:         model.RoleAdmin,
			Status:       model.UserEnabled,
		}
		if err := users.Create(ctx, admin); err != nil {
			return fmt.Errorf("repository.Seed: create admin: %w", err)
		}
		slog.Info("[SEED] default admin created", "username", d.AdminUsername)
	}

	embedders, err := llms.ListByType(ctx, model.ModelTypeEmbedding)
	if err != nil {
		return fmt.Errorf("repository.Seed: list embedders: %w", err)
	}
	var embedLLM *model.LLM
	if len(embedders) > 0 {
		embedLLM = &embedders[0]
	} else {
		embedLLM = &model.LLM{
			Name:      d.EmbedLLMName,
			ModelType: model.ModelTypeEmbedding,
			Provider:  d.EmbedProvider,
			ModelName: d.EmbedModelName,
			Status:    1,
		}
		if err := llms.Create(ctx, embedLLM); err != nil {
			return fmt.Errorf("repository.Seed: create embed llm: %w", err)
		}
		slog.Info("[SEED] default embedding llm created", "model", d.EmbedModelName)
	}

	existing, err := knowledge.ListByUser(ctx, admin.ID)
	if err != nil {
		return fmt.Errorf("repository.Seed: list knowledge: %w", err)
	}
	if len(existing) == 0 {
		kb := &model.Knowledge{
			UserID:               admin.ID,
			Name:                 "Default Knowledge",
			EmbedLLMID:           embedLLM.ID,
			VectorCollectionName: "kb_" + uuid.NewString(),
			ChunkSize:            d.ChunkSize,
			ChunkOverlap:         d.ChunkOverlap,
			Status:               model.KnowledgeEnabled,
		}
		if err := knowledge.Create(ctx, kb); err != nil {
			return fmt.Errorf("repository.Seed: create knowledge: %w", err)
		}
		slog.Info("[SEED] default knowledge created", "knowledge_id", kb.ID)
	}

	return nil
}
