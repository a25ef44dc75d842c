// Package turnloop implements an agent-turn orchestration runtime.
//
// It drives one request/response cycle of a tool-using model agent: a
// cooperative scheduler runs registered middleware hooks around the
// model/tool loop, keeps the context window bounded by evicting large
// tool results into a blobstore and compacting old history into a
// synthesized summary, repairs histories left inconsistent by an
// interrupted turn, delegates sub-problems to isolated child executions,
// and supports durable suspension for external approval.
//
// # Architecture
//
//   - Scheduler: the turn driver composing everything into one
//     ExecuteTurn cycle, with Resume for suspended turns.
//   - Middleware: ordered units exposing optional pre-turn, model-call
//     and tool-call hooks, plus tool definitions. First registered is
//     outermost in the wrap phases.
//   - Standard middleware: IntegrityPatcher, Compactor, Evictor,
//     Delegator, ApprovalGate, SkillLoader, TodoTracker.
//   - Registry: registration and dispatch of tool definitions.
//   - Emitter: typed event stream for the host application.
//
// # Quick Start
//
//	client, _ := modelcall.NewGollmClient("anthropic", "claude-sonnet-4-5")
//	store := blobstore.NewMemoryStore()
//	checkpoints, _ := blobstore.NewSQLiteCheckpoints("checkpoints.db")
//	cfg := turnloop.DefaultConfig()
//
//	sched := turnloop.NewScheduler(client, store, checkpoints, cfg,
//	    turnloop.NewIntegrityPatcher(),
//	    turnloop.NewCompactor(client, cfg),
//	    turnloop.NewEvictor(cfg),
//	    turnloop.NewApprovalGate("deploy"),
//	)
//	state := sched.NewState()
//	result, err := sched.ExecuteTurn(ctx, state, "Summarize the logs")
package turnloop
