package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/bus"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/repository"
)

const (
	recallTaskTTL = time.Hour
	// recallProgressEvery is how many evaluated queries pass between
	// progress writes. Each write doubles as the cancellation check:
	// a deleted task key stops the run.
	recallProgressEvery = 10
)

// RecallRobotLookup resolves the optional robot a recall run borrows
// its rerank configuration from.
type RecallRobotLookup interface {
	GetByID(ctx context.Context, id string) (*model.Robot, error)
}

// RecallEvaluator runs batch offline retrieval quality jobs: the HTTP
// handler enqueues a recall.test message and a worker calls Run, which
// streams per-query metrics and progress into the task's cache blob.
type RecallEvaluator struct {
	retriever *RetrieverService
	robots    RecallRobotLookup
	cache     *repository.Cache
	now       func() time.Time
}

func NewRecallEvaluator(retriever *RetrieverService, robots RecallRobotLookup, cache *repository.Cache) *RecallEvaluator {
	return &RecallEvaluator{retriever: retriever, robots: robots, cache: cache, now: time.Now}
}

// SaveTask writes the task blob with the one-hour TTL.
func (e *RecallEvaluator) SaveTask(ctx context.Context, task *model.RecallTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("service.RecallEvaluator.SaveTask: marshal: %w", err)
	}
	if err := e.cache.SetRecallTask(ctx, task.TaskID, string(payload), recallTaskTTL); err != nil {
		return fmt.Errorf("service.RecallEvaluator.SaveTask: %w", err)
	}
	return nil
}

// LoadTask returns the task blob, or nil if it expired or was canceled.
func (e *RecallEvaluator) LoadTask(ctx context.Context, taskID string) (*model.RecallTask, error) {
	raw, err := e.cache.GetRecallTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("service.RecallEvaluator.LoadTask: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var task model.RecallTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("service.RecallEvaluator.LoadTask: unmarshal: %w", err)
	}
	return &task, nil
}

// Run executes one enqueued recall evaluation. Failures mark the task
// failed with the error; a task key deleted mid-run cancels it at the
// next progress write.
func (e *RecallEvaluator) Run(ctx context.Context, msg bus.RecallTestMessage) error {
	start := e.now()
	task := &model.RecallTask{
		TaskID:    msg.TaskID,
		Status:    model.RecallRunning,
		StartedAt: start,
	}
	if err := e.SaveTask(ctx, task); err != nil {
		return err
	}

	var robot *model.Robot
	if msg.RobotID != nil {
		r, err := e.robots.GetByID(ctx, *msg.RobotID)
		if err != nil {
			return e.fail(ctx, task, fmt.Errorf("load robot: %w", err))
		}
		robot = r
	}

	results := make([]model.RecallQueryResult, 0, len(msg.Queries))
	for i, q := range msg.Queries {
		qStart := e.now()
		contexts, err := e.retriever.HybridRetrieve(ctx, robot, msg.KnowledgeIDs, q.Query, msg.TopN)
		if err != nil {
			return e.fail(ctx, task, fmt.Errorf("query %d: %w", i+1, err))
		}
		results = append(results, scoreQuery(q, contexts, msg.Threshold, e.now().Sub(qStart)))

		if (i+1)%recallProgressEvery == 0 {
			existing, err := e.LoadTask(ctx, msg.TaskID)
			if err != nil {
				return err
			}
			if existing == nil {
				slog.Info("[RECALL] task canceled, stopping", "task_id", msg.TaskID)
				return nil
			}
			task.Progress = (i + 1) * 100 / len(msg.Queries)
			task.Results = results
			task.EstimatedRemainingSec = estimateRemaining(e.now().Sub(start), task.Progress)
			if err := e.SaveTask(ctx, task); err != nil {
				return err
			}
		}
	}

	summary := summarize(results)
	done := e.now()
	task.Status = model.RecallFinished
	task.Progress = 100
	task.EstimatedRemainingSec = 0
	task.Results = results
	task.Summary = &summary
	task.CompletedAt = &done
	if err := e.SaveTask(ctx, task); err != nil {
		return err
	}
	slog.Info("[RECALL] finished", "task_id", msg.TaskID, "queries", len(results),
		"top_n_hit_rate", summary.TopNHitRate, "avg_f1", summary.AvgF1)
	return nil
}

func (e *RecallEvaluator) fail(ctx context.Context, task *model.RecallTask, cause error) error {
	msg := cause.Error()
	done := e.now()
	task.Status = model.RecallFailed
	task.Error = &msg
	task.CompletedAt = &done
	if err := e.SaveTask(ctx, task); err != nil {
		slog.Error("[RECALL] persisting failure also failed", "task_id", task.TaskID, "error", err)
	}
	return fmt.Errorf("service.RecallEvaluator.Run: %w", cause)
}

// scoreQuery computes per-query metrics. With expected IDs: recall,
// precision and F1 over the score-thresholded retrieved document set,
// and top_n_hit over the unfiltered list. Without expected IDs the only
// signal is whether anything cleared the threshold.
func scoreQuery(q bus.RecallQuery, contexts []model.RetrievedContext, threshold float64, latency time.Duration) model.RecallQueryResult {
	res := model.RecallQueryResult{Query: q.Query, LatencyMs: latency.Milliseconds()}

	retained := make(map[string]bool)
	all := make(map[string]bool)
	for _, c := range contexts {
		all[c.DocumentID] = true
		if c.Score >= threshold {
			retained[c.DocumentID] = true
		}
	}

	if len(q.ExpectedDocIDs) == 0 {
		res.TopNHit = len(retained) > 0
		if res.TopNHit {
			res.Recall, res.Precision, res.F1 = 1, 1, 1
		}
		return res
	}

	expected := make(map[string]bool, len(q.ExpectedDocIDs))
	for _, id := range q.ExpectedDocIDs {
		expected[id] = true
		if all[id] {
			res.TopNHit = true
		}
	}

	var hits int
	for id := range retained {
		if expected[id] {
			hits++
		}
	}
	res.Recall = float64(hits) / float64(len(expected))
	if len(retained) > 0 {
		res.Precision = float64(hits) / float64(len(retained))
	}
	if res.Recall+res.Precision > 0 {
		res.F1 = 2 * res.Recall * res.Precision / (res.Recall + res.Precision)
	}
	return res
}

func summarize(results []model.RecallQueryResult) model.RecallSummary {
	var s model.RecallSummary
	if len(results) == 0 {
		return s
	}
	var hits int
	var latency float64
	for _, r := range results {
		s.AvgRecall += r.Recall
		s.AvgPrecision += r.Precision
		s.AvgF1 += r.F1
		latency += float64(r.LatencyMs)
		if r.TopNHit {
			hits++
		}
	}
	n := float64(len(results))
	s.AvgRecall /= n
	s.AvgPrecision /= n
	s.AvgF1 /= n
	s.AvgLatencyMs = latency / n
	s.TopNHitRate = float64(hits) / n
	return s
}

// estimateRemaining projects elapsed*(1/p - 1) for progress p in
// [1,100].
func estimateRemaining(elapsed time.Duration, progress int) int {
	if progress <= 0 {
		return 0
	}
	p := float64(progress) / 100
	return int(elapsed.Seconds() * (1/p - 1))
}
