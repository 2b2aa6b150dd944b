package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadenza-io/cadenza/pkg/events"
	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/otelhelper"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/progress"
	"github.com/cadenza-io/cadenza/pkg/registry"
	"github.com/cadenza-io/cadenza/pkg/tasks"
)

// Core is the scheduler shared by the engine implementations. It owns the
// semantics: join eligibility, CAS claiming, retry backoff, fatal cascade,
// fan-out materialization and the run roll-up. Engines own only dispatch
// and concurrency around it. Core methods are safe for concurrent use; all
// state lives in persistence.
type Core struct {
	name      string
	store     persistence.Persistence
	registry  *registry.Registry
	publisher *progress.Publisher
	policies  map[models.TaskType]models.RetryPolicy
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewCore(name string, store persistence.Persistence, reg *registry.Registry, cfg Config) *Core {
	cfg = cfg.withDefaults()

	return &Core{
		name:      name,
		store:     store,
		registry:  reg,
		publisher: cfg.Publisher,
		policies:  cfg.RetryPolicies,
		tracer:    otel.Tracer("cadenza/engine"),
		logger:    cfg.Logger.With("module", "engine", "engine", name),
	}
}

// SubmitRun persists the run and its static graph, moves the run to
// running and emits RunStarted. The run is durable before any scheduling
// happens.
func (c *Core) SubmitRun(ctx context.Context, run *models.Run, g *graph.Graph) error {
	if err := c.registry.Complete(); err != nil {
		return fmt.Errorf("refusing submit: %w", err)
	}

	if run.Status == "" {
		run.Status = models.RunStatusPending
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	if err := c.store.Runs().Create(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	if err := c.store.Nodes().InsertGraph(ctx, run.ID, g.Nodes); err != nil {
		return fmt.Errorf("persist graph: %w", err)
	}

	if err := c.store.Runs().UpdateStatus(ctx, run.ID, models.RunStatusPending, models.RunStatusRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	run.Status = models.RunStatusRunning

	event := &events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, run.ID),
		InputRef:  run.InputRef,
		NodeCount: len(g.Nodes),
	}
	c.emit(ctx, run.ID, event)

	c.logger.InfoContext(ctx, "Run submitted", "run_id", run.ID, "nodes", len(g.Nodes))

	return nil
}

// Snapshot returns the durable view of a run and its node table.
func (c *Core) Snapshot(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	run, err := c.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodes, err := c.store.Nodes().ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &models.RunSnapshot{Run: run, Nodes: nodes}, nil
}

// Cancel moves the run to cancelled. Running attempts finish their current
// execution; Advance schedules nothing for a terminal run.
func (c *Core) Cancel(ctx context.Context, runID string) error {
	run, err := c.store.Runs().Get(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return nil
	}

	err = c.store.Runs().UpdateStatus(ctx, runID, run.Status, models.RunStatusCancelled)
	if persistence.IsConflict(err) {
		return nil
	}

	if err != nil {
		return err
	}

	c.emit(ctx, runID, &events.RunCancelled{
		BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, runID),
	})

	c.logger.InfoContext(ctx, "Run cancelled", "run_id", runID)

	if c.publisher != nil {
		c.publisher.Forget(runID)
	}

	return nil
}

// Advance performs one scheduling pass over a run: promote due retries,
// re-materialize a missing fan-out, cascade skips, roll the run up when all
// nodes are terminal, and return the nodes ready to claim. It derives
// everything from persisted state, so it is also the resume path. The
// second return value reports that the run is terminal and needs no
// further scheduling.
func (c *Core) Advance(ctx context.Context, runID string) ([]*models.TaskNode, bool, error) {
	run, err := c.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, false, err
	}

	if run.Status.Terminal() {
		// An attempt that was in flight during cancellation recreates the
		// sequence counter with its terminal event; drop it again here.
		if c.publisher != nil {
			c.publisher.Forget(runID)
		}

		return nil, true, nil
	}

	nodes, err := c.store.Nodes().ListByRun(ctx, runID)
	if err != nil {
		return nil, false, err
	}

	nodes, err = c.ensureFanOut(ctx, runID, nodes)
	if err != nil {
		return nil, false, err
	}

	byID := make(map[string]*models.TaskNode, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}

	now := time.Now().UTC()

	for _, node := range nodes {
		if node.Status == models.NodeStatusRetrying && retryDue(node, now) {
			updated, err := c.store.Nodes().Transition(ctx, runID, node.ID,
				models.NodeStatusRetrying, models.NodeStatusQueued, nil)
			if persistence.IsConflict(err) {
				continue
			}

			if err != nil {
				return nil, false, err
			}

			*node = *updated
		}
	}

	// Cascade to fixpoint: a skip can make a descendant's join decidable.
	for changed := true; changed; {
		changed = false

		for _, node := range nodes {
			if node.Status != models.NodeStatusQueued {
				continue
			}

			decision, ancestor := joinDecision(node, byID)
			if decision != decisionSkip {
				continue
			}

			updated, err := c.store.Nodes().Transition(ctx, runID, node.ID,
				models.NodeStatusQueued, models.NodeStatusSkipped, func(n *models.TaskNode) {
					n.Error = fmt.Sprintf("skipped: ancestor %s did not complete", ancestor)
				})
			if persistence.IsConflict(err) {
				continue
			}

			if err != nil {
				return nil, false, err
			}

			*node = *updated
			changed = true

			c.emit(ctx, runID, &events.NodeSkipped{
				BaseEvent: events.NewBaseEvent(events.NodeSkippedEvent, runID),
				NodeID:    node.ID,
				TaskType:  node.Type,
				Ancestor:  ancestor,
			})
		}
	}

	var ready []*models.TaskNode

	allTerminal := true

	for _, node := range nodes {
		if !node.Status.Terminal() {
			allTerminal = false
		}

		if node.Status != models.NodeStatusQueued || !retryDue(node, now) {
			continue
		}

		if decision, _ := joinDecision(node, byID); decision == decisionReady {
			ready = append(ready, node)
		}
	}

	if allTerminal {
		return nil, true, c.rollUp(ctx, run, nodes)
	}

	return ready, false, nil
}

// RunTask claims one node and executes it through a full attempt. A lost
// claim race is not an error: some other worker owns the node.
func (c *Core) RunTask(ctx context.Context, runID, nodeID string) error {
	run, err := c.store.Runs().Get(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()

	node, err := c.store.Nodes().Transition(ctx, runID, nodeID,
		models.NodeStatusQueued, models.NodeStatusRunning, func(n *models.TaskNode) {
			n.Attempts++
			n.StartedAt = &now
			n.NextRetryAt = nil
		})
	if persistence.IsConflict(err) {
		return nil
	}

	if err != nil {
		return err
	}

	c.emit(ctx, runID, &events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, runID),
		NodeID:    node.ID,
		TaskType:  node.Type,
		Attempt:   node.Attempts,
	})

	spanCtx, span := otelhelper.StartSpan(ctx, c.tracer, "task.execute",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.TaskTypeKey, string(node.Type)),
		attribute.Int(otelhelper.AttemptKey, node.Attempts),
		attribute.String(otelhelper.EngineKey, c.name),
	)
	defer span.End()

	output, execErr := c.execute(spanCtx, run, node)
	if execErr != nil {
		otelhelper.SetError(span, execErr)

		return c.recordFailure(ctx, run, node, execErr)
	}

	return c.recordCompletion(ctx, run, node, output, now)
}

func (c *Core) execute(ctx context.Context, run *models.Run, node *models.TaskNode) (map[string]any, error) {
	handler, err := c.registry.Handler(node.Type)
	if err != nil {
		return nil, tasks.Fatal(err)
	}

	input, err := c.buildInput(ctx, run, node)
	if err != nil {
		return nil, err
	}

	policy := models.PolicyFor(c.policies, node.Type)

	attemptCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	output, err := handler.Execute(attemptCtx, input)
	if err != nil {
		return nil, err
	}

	if err := c.registry.ValidateOutput(node.Type, output); err != nil {
		return nil, err
	}

	return output, nil
}

func (c *Core) buildInput(ctx context.Context, run *models.Run, node *models.TaskNode) (tasks.Input, error) {
	params := make(map[string]any, len(run.Metadata)+len(node.Input)+1)
	for key, value := range run.Metadata {
		params[key] = value
	}

	params["input_reference"] = run.InputRef

	for key, value := range node.Input {
		params[key] = value
	}

	parents := make(map[string]map[string]any, len(node.Parents))

	for _, parentID := range node.Parents {
		parent, err := c.store.Nodes().Get(ctx, run.ID, parentID)
		if err != nil {
			return tasks.Input{}, fmt.Errorf("load parent %s: %w", parentID, err)
		}

		// Lenient joins see only the parents that completed.
		if parent.Status == models.NodeStatusCompleted {
			parents[parentID] = parent.Output
		}
	}

	return tasks.Input{
		RunID:    run.ID,
		NodeID:   node.ID,
		Params:   params,
		Parents:  parents,
		Reporter: &nodeReporter{core: c, runID: run.ID, nodeID: node.ID, taskType: node.Type},
	}, nil
}

func (c *Core) recordCompletion(ctx context.Context, run *models.Run, node *models.TaskNode, output map[string]any, startedAt time.Time) error {
	updated, err := c.store.Nodes().Transition(ctx, run.ID, node.ID,
		models.NodeStatusRunning, models.NodeStatusCompleted, func(n *models.TaskNode) {
			n.Output = output
			n.Error = ""
		})
	if err != nil {
		return err
	}

	c.emit(ctx, run.ID, &events.NodeCompleted{
		BaseEvent:  events.NewBaseEvent(events.NodeCompletedEvent, run.ID),
		NodeID:     updated.ID,
		TaskType:   updated.Type,
		Output:     output,
		DurationMs: time.Since(startedAt).Milliseconds(),
	})

	c.logger.DebugContext(ctx, "Node completed",
		"run_id", run.ID, "node_id", updated.ID, "attempts", updated.Attempts)

	if updated.Type == models.TaskTypeFetchParticipants {
		if _, err := c.materializeFanOut(ctx, run.ID, updated.Output); err != nil {
			return err
		}
	}

	if updated.Type == models.TaskTypeTranscribeTrack || updated.Type == models.TaskTypePadTrack {
		c.emitFanOutProgress(ctx, run.ID, updated.Type)
	}

	return nil
}

func (c *Core) recordFailure(ctx context.Context, run *models.Run, node *models.TaskNode, execErr error) error {
	policy := models.PolicyFor(c.policies, node.Type)
	fatal := tasks.IsFatal(execErr)

	if !fatal && node.Attempts < policy.MaxAttempts {
		next := time.Now().UTC().Add(retryDelay(policy, node.Attempts))

		updated, err := c.store.Nodes().Transition(ctx, run.ID, node.ID,
			models.NodeStatusRunning, models.NodeStatusRetrying, func(n *models.TaskNode) {
				n.Error = execErr.Error()
				n.NextRetryAt = &next
			})
		if err != nil {
			return err
		}

		c.emit(ctx, run.ID, &events.NodeRetrying{
			BaseEvent:   events.NewBaseEvent(events.NodeRetryingEvent, run.ID),
			NodeID:      updated.ID,
			TaskType:    updated.Type,
			Attempt:     updated.Attempts,
			MaxAttempts: policy.MaxAttempts,
			Error:       execErr.Error(),
			NextRetryAt: next,
		})

		c.logger.WarnContext(ctx, "Node attempt failed, retrying",
			"run_id", run.ID, "node_id", updated.ID,
			"attempt", updated.Attempts, "max_attempts", policy.MaxAttempts,
			"next_retry_at", next, "error", execErr)

		return nil
	}

	updated, err := c.store.Nodes().Transition(ctx, run.ID, node.ID,
		models.NodeStatusRunning, models.NodeStatusFailed, func(n *models.TaskNode) {
			n.Error = execErr.Error()
		})
	if err != nil {
		return err
	}

	c.emit(ctx, run.ID, &events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent, run.ID),
		NodeID:    updated.ID,
		TaskType:  updated.Type,
		Error:     execErr.Error(),
		Attempts:  updated.Attempts,
		Fatal:     fatal,
	})

	c.logger.ErrorContext(ctx, "Node failed",
		"run_id", run.ID, "node_id", updated.ID,
		"attempts", updated.Attempts, "fatal", fatal, "error", execErr)

	return nil
}

// ensureFanOut re-materializes the fan-out when fetch_participants
// completed but the expansion was lost to a crash before it committed.
func (c *Core) ensureFanOut(ctx context.Context, runID string, nodes []*models.TaskNode) ([]*models.TaskNode, error) {
	var fetchParticipants *models.TaskNode

	for _, node := range nodes {
		if node.Type == models.TaskTypePadTrack {
			return nodes, nil
		}

		if node.ID == graph.NodeFetchParticipants {
			fetchParticipants = node
		}
	}

	if fetchParticipants == nil || fetchParticipants.Status != models.NodeStatusCompleted {
		return nodes, nil
	}

	expanded, err := c.materializeFanOut(ctx, runID, fetchParticipants.Output)
	if err != nil {
		return nil, err
	}

	if !expanded {
		return nodes, nil
	}

	return c.store.Nodes().ListByRun(ctx, runID)
}

// materializeFanOut applies the pad/transcribe expansion for the
// discovered participants in one persistence transaction. Re-running after
// a prior commit is a no-op.
func (c *Core) materializeFanOut(ctx context.Context, runID string, output map[string]any) (bool, error) {
	participants, err := participantsFromOutput(output)
	if err != nil {
		return false, err
	}

	if len(participants) == 0 {
		return false, nil
	}

	nodes, err := c.store.Nodes().ListByRun(ctx, runID)
	if err != nil {
		return false, err
	}

	g, err := graph.FromNodes(runID, nodes)
	if err != nil {
		return false, err
	}

	expansion, err := graph.FanOut(g, participants)
	if err != nil {
		// Already materialized by a previous attempt.
		return false, nil
	}

	if err := c.store.Nodes().ExpandFanOut(ctx, expansion); err != nil {
		if persistence.IsConflict(err) {
			return false, nil
		}

		return false, err
	}

	c.emit(ctx, runID, &events.NodeProgress{
		BaseEvent:     events.NewBaseEvent(events.NodeProgressEvent, runID),
		NodeID:        graph.NodeMergeTranscripts,
		TaskType:      models.TaskTypeMergeTranscripts,
		ChildrenTotal: expansion.Cardinality,
	})

	c.logger.InfoContext(ctx, "Fan-out materialized",
		"run_id", runID, "tracks", expansion.Cardinality)

	return true, nil
}

// emitFanOutProgress reports fan-in child completion counts after a chain
// node finishes.
func (c *Core) emitFanOutProgress(ctx context.Context, runID string, completed models.TaskType) {
	nodes, err := c.store.Nodes().ListByRun(ctx, runID)
	if err != nil {
		return
	}

	fanIn := graph.NodeMixdown
	if completed == models.TaskTypeTranscribeTrack {
		fanIn = graph.NodeMergeTranscripts
	}

	done, total := 0, 0

	for _, node := range nodes {
		if node.Type != completed {
			continue
		}

		total++

		if node.Status.Terminal() {
			done++
		}
	}

	node := (&models.RunSnapshot{Nodes: nodes}).Node(fanIn)
	if node == nil || total == 0 {
		return
	}

	c.emit(ctx, runID, &events.NodeProgress{
		BaseEvent:     events.NewBaseEvent(events.NodeProgressEvent, runID),
		NodeID:        fanIn,
		TaskType:      node.Type,
		ChildrenDone:  done,
		ChildrenTotal: total,
	})
}

// rollUp finalizes a run whose nodes are all terminal. The run completes
// when every required node completed; a required node is a non-best-effort
// node with no non-best-effort descendants, so an upstream failure absorbed
// by a lenient fan-in does not fail the run, while a cascade that skips the
// pipeline spine does.
func (c *Core) rollUp(ctx context.Context, run *models.Run, nodes []*models.TaskNode) error {
	byID := make(map[string]*models.TaskNode, len(nodes))
	children := make(map[string][]string, len(nodes))

	for _, node := range nodes {
		byID[node.ID] = node
	}

	for _, node := range nodes {
		for _, parent := range node.Parents {
			children[parent] = append(children[parent], node.ID)
		}
	}

	status := models.RunStatusCompleted

	var errMsg, failedNode string

	for _, node := range nodes {
		if node.BestEffort || node.Status == models.NodeStatusCompleted {
			continue
		}

		if hasRequiredDescendant(node.ID, children, byID, map[string]bool{}) {
			continue
		}

		status = models.RunStatusFailed
		failedNode = node.ID
		errMsg = node.Error

		break
	}

	// Attribute the run failure to the originating failed node, not the
	// skipped sink the cascade ended at.
	if status == models.RunStatusFailed {
		for _, node := range nodes {
			if node.Status == models.NodeStatusFailed && !node.BestEffort {
				failedNode = node.ID
				errMsg = node.Error

				break
			}
		}

		if errMsg == "" {
			errMsg = fmt.Sprintf("node %s did not complete", failedNode)
		}
	}

	var result map[string]any

	if status == models.RunStatusCompleted {
		if finalize := byID[graph.NodeFinalize]; finalize != nil {
			result = finalize.Output
		}
	}

	// Result first, then the terminal CAS: a crash in between leaves a
	// running run whose next roll-up pass rewrites the same result, never a
	// terminal run without one. Racing schedulers derive the result from
	// the same terminal node table, so the early write is idempotent.
	if err := c.store.Runs().SetResult(ctx, run.ID, result, errMsg); err != nil {
		return err
	}

	err := c.store.Runs().UpdateStatus(ctx, run.ID, models.RunStatusRunning, status)
	if persistence.IsConflict(err) {
		// Another scheduler pass rolled the run up first.
		return nil
	}

	if err != nil {
		return err
	}

	durationMs := int64(0)
	if run.StartedAt != nil {
		durationMs = time.Since(*run.StartedAt).Milliseconds()
	}

	if status == models.RunStatusCompleted {
		c.emit(ctx, run.ID, &events.RunCompleted{
			BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent, run.ID),
			Result:     result,
			DurationMs: durationMs,
		})
	} else {
		c.emit(ctx, run.ID, &events.RunFailed{
			BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, run.ID),
			Error:      errMsg,
			FailedNode: failedNode,
			DurationMs: durationMs,
		})
	}

	c.logger.InfoContext(ctx, "Run finished", "run_id", run.ID, "status", status)

	if c.publisher != nil {
		c.publisher.Forget(run.ID)
	}

	return nil
}

// RequeueStale re-queues nodes a crash left in running. At-least-once:
// the attempt may have finished its side effects, so handlers stay
// idempotent.
func (c *Core) RequeueStale(ctx context.Context, runID string) error {
	nodes, err := c.store.Nodes().ListByRun(ctx, runID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.Status != models.NodeStatusRunning {
			continue
		}

		_, err := c.store.Nodes().Transition(ctx, runID, node.ID,
			models.NodeStatusRunning, models.NodeStatusRetrying, func(n *models.TaskNode) {
				n.NextRetryAt = nil
			})
		if err != nil && !persistence.IsConflict(err) {
			return err
		}

		_, err = c.store.Nodes().Transition(ctx, runID, node.ID,
			models.NodeStatusRetrying, models.NodeStatusQueued, nil)
		if err != nil && !persistence.IsConflict(err) {
			return err
		}

		c.logger.InfoContext(ctx, "Re-queued stale node", "run_id", runID, "node_id", node.ID)
	}

	return nil
}

// ActiveRuns lists the persisted runs that still need scheduling.
func (c *Core) ActiveRuns(ctx context.Context) ([]string, error) {
	runs, err := c.store.Runs().List(ctx)
	if err != nil {
		return nil, err
	}

	var active []string

	for _, run := range runs {
		if !run.Status.Terminal() {
			active = append(active, run.ID)
		}
	}

	return active, nil
}

func (c *Core) emit(ctx context.Context, runID string, event progress.Sequenced) {
	if c.publisher == nil {
		return
	}

	if tagged, ok := event.(interface{ SetEngine(string) }); ok {
		tagged.SetEngine(c.name)
	}

	c.publisher.Publish(ctx, runID, event)
}

type joinResult int

const (
	decisionWait joinResult = iota
	decisionReady
	decisionSkip
)

// joinDecision evaluates a queued node's parent set. Strict joins require
// every parent completed and skip on any failed or skipped parent. Lenient
// joins wait for all parents to reach a terminal state and run with
// whatever completed; they skip only when parents existed and none
// completed.
func joinDecision(node *models.TaskNode, byID map[string]*models.TaskNode) (joinResult, string) {
	if len(node.Parents) == 0 {
		return decisionReady, ""
	}

	if node.JoinPolicy == models.JoinLenient {
		completed := 0

		var lastIncomplete string

		for _, parentID := range node.Parents {
			parent := byID[parentID]
			if parent == nil || !parent.Status.Terminal() {
				return decisionWait, ""
			}

			if parent.Status == models.NodeStatusCompleted {
				completed++
			} else {
				lastIncomplete = parentID
			}
		}

		if completed == 0 {
			return decisionSkip, lastIncomplete
		}

		return decisionReady, ""
	}

	for _, parentID := range node.Parents {
		parent := byID[parentID]
		if parent == nil {
			return decisionWait, ""
		}

		switch parent.Status {
		case models.NodeStatusFailed, models.NodeStatusSkipped:
			return decisionSkip, parentID
		case models.NodeStatusCompleted:
		default:
			return decisionWait, ""
		}
	}

	return decisionReady, ""
}

func hasRequiredDescendant(nodeID string, children map[string][]string, byID map[string]*models.TaskNode, seen map[string]bool) bool {
	if seen[nodeID] {
		return false
	}

	seen[nodeID] = true

	for _, childID := range children[nodeID] {
		child := byID[childID]
		if child == nil {
			continue
		}

		if !child.BestEffort {
			return true
		}

		if hasRequiredDescendant(childID, children, byID, seen) {
			return true
		}
	}

	return false
}

func retryDue(node *models.TaskNode, now time.Time) bool {
	return node.NextRetryAt == nil || !now.Before(*node.NextRetryAt)
}

// retryDelay derives the deterministic backoff delay before the next
// attempt. completedAttempts counts the executions so far, so the first
// retry waits InitialDelay.
func retryDelay(policy models.RetryPolicy, completedAttempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialDelay
	b.Multiplier = policy.Multiplier
	b.MaxInterval = policy.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < completedAttempts; i++ {
		delay = b.NextBackOff()
	}

	return delay
}

// nodeReporter forwards intermediate handler progress to the publisher.
type nodeReporter struct {
	core     *Core
	runID    string
	nodeID   string
	taskType models.TaskType
}

func (r *nodeReporter) Progress(percent float64) {
	r.core.emit(context.Background(), r.runID, &events.NodeProgress{
		BaseEvent: events.NewBaseEvent(events.NodeProgressEvent, r.runID),
		NodeID:    r.nodeID,
		TaskType:  r.taskType,
		Percent:   percent,
	})
}

// participantsFromOutput decodes the participant list from the
// fetch_participants output, which may have been through a JSON round trip.
func participantsFromOutput(output map[string]any) ([]models.Participant, error) {
	raw, ok := output["participants"]
	if !ok {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}

	var participants []models.Participant
	if err := json.Unmarshal(data, &participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}

	return participants, nil
}
