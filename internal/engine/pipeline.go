package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ceobrain/cortex/internal/llm"
	"github.com/ceobrain/cortex/internal/storage"
	"github.com/ceobrain/cortex/pkg/types"
)

// Stage identifies one step of the conversation turn state machine.
type Stage string

const (
	StageProfile  Stage = "profile_load"
	StageRoute    Stage = "route"
	StageRetrieve Stage = "memory_retrieve"
	StageCritique Stage = "critique"
	StagePlan     Stage = "plan"
	StageExecute  Stage = "execute"
	StageRespond  Stage = "respond"
	StageReflect  Stage = "reflect"
	StageEnd      Stage = "end"
)

// stageFunc runs one stage against the turn state and names the next stage.
// Stages degrade internally; a returned error aborts the turn and produces
// the apology path.
type stageFunc func(ctx context.Context, st *turnState) (Stage, error)

// turnState is the scratchpad a single conversation turn accumulates as it
// moves through the stages.
type turnState struct {
	Message        string
	Profile        *types.UserProfile
	Classification types.ClassificationResult
	Memories       string
	GraphFacts     string
	UrgentTasks    string
	ActionTaken    string

	// Critique, when non-empty, is the critic's objection. Planning turns
	// it into the final reply and the write stages stand down.
	Critique string

	// Reply, once final, short-circuits generation: critique rejections
	// and clarifications are shown verbatim.
	Reply      string
	replyFinal bool

	// Stages visited, in order. Streaming narrates these through observer.
	visited  []Stage
	observer func(Stage)
}

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	UserName    string
	TopK        int
	GraphHops   int
	GraphLimit  int
	UrgentHours int
}

// Pipeline is the orchestration state machine: one conversation turn enters
// as raw text and leaves as a reply, with every side effect (notes, tasks,
// graph edges, profile updates) routed through the stages in between.
type Pipeline struct {
	store      storage.Store
	memory     *Memory
	linker     *Linker
	router     *Router
	generator  llm.TextGenerator
	streamer   llm.StreamGenerator
	dispatcher *Dispatcher

	cfg    PipelineConfig
	stages map[Stage]stageFunc
}

// NewPipeline wires the state machine. A nil streamer disables token
// streaming (Stream falls back to whole replies); zero config fields get
// defaults.
func NewPipeline(store storage.Store, memory *Memory, linker *Linker, router *Router,
	generator llm.TextGenerator, streamer llm.StreamGenerator, dispatcher *Dispatcher, cfg PipelineConfig) *Pipeline {

	if cfg.UserName == "" {
		cfg.UserName = "Boss"
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	if cfg.GraphHops < 1 {
		cfg.GraphHops = 2
	}
	if cfg.GraphLimit < 1 {
		cfg.GraphLimit = 10
	}
	if cfg.UrgentHours < 1 {
		cfg.UrgentHours = 24
	}

	p := &Pipeline{
		store:      store,
		memory:     memory,
		linker:     linker,
		router:     router,
		generator:  generator,
		streamer:   streamer,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
	p.stages = map[Stage]stageFunc{
		StageProfile:  p.stageProfile,
		StageRoute:    p.stageRoute,
		StageRetrieve: p.stageRetrieve,
		StageCritique: p.stageCritique,
		StagePlan:     p.stagePlan,
		StageExecute:  p.stageExecute,
		StageRespond:  p.stageRespond,
		StageReflect:  p.stageReflect,
	}
	return p
}

// Respond runs one full conversation turn and returns the reply. The turn
// itself never surfaces an error to the caller: any failure that escapes
// the stages becomes a logged, correlation-tagged apology.
func (p *Pipeline) Respond(ctx context.Context, message string) string {
	st := &turnState{Message: message}
	return p.run(ctx, st)
}

// run drives the interpreter loop over the stage table.
func (p *Pipeline) run(ctx context.Context, st *turnState) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			reply = p.apology(fmt.Errorf("panic: %v", r))
		}
	}()

	stage := StageProfile
	for stage != StageEnd {
		fn, ok := p.stages[stage]
		if !ok {
			return p.apology(fmt.Errorf("no handler for stage %s", stage))
		}
		st.visited = append(st.visited, stage)
		if st.observer != nil {
			st.observer(stage)
		}

		next, err := fn(ctx, st)
		if err != nil {
			return p.apology(fmt.Errorf("stage %s: %w", stage, err))
		}
		stage = next
	}
	return st.Reply
}

// apology is the outer failure surface: log the cause under a correlation
// ID, show the user only the ID.
func (p *Pipeline) apology(cause error) string {
	correlationID := uuid.NewString()
	log.Printf("Pipeline: turn failed [%s]: %v", correlationID, cause)
	return fmt.Sprintf("Something went wrong on my end and I couldn't finish that. Reference: %s", correlationID)
}

func (p *Pipeline) stageProfile(ctx context.Context, st *turnState) (Stage, error) {
	profile, err := p.store.LoadOrCreateProfile(ctx, types.DefaultProfile(p.cfg.UserName))
	if err != nil {
		// Every later stage personalizes off the profile; without it the
		// turn cannot proceed.
		return StageEnd, fmt.Errorf("load profile: %w", err)
	}
	st.Profile = profile
	return StageRoute, nil
}

func (p *Pipeline) stageRoute(ctx context.Context, st *turnState) (Stage, error) {
	st.Classification = p.router.Route(ctx, st.Message)
	return StageRetrieve, nil
}

func (p *Pipeline) stageRetrieve(ctx context.Context, st *turnState) (Stage, error) {
	query := st.Classification.SearchQuery
	if query == "" {
		query = st.Message
	}
	st.Memories = p.memory.Retrieve(ctx, query, st.Profile.ID, p.cfg.TopK)

	if names := entityNames(st.Classification.Entities); len(names) > 0 {
		st.GraphFacts = p.linker.GraphFacts(ctx, names, p.cfg.GraphHops, p.cfg.GraphLimit)
	}

	st.UrgentTasks = p.urgentTasks(ctx)

	// Read-only intents have nothing irreversible to vet.
	switch st.Classification.Intent {
	case types.IntentSearchMemory, types.IntentUnknown:
		return StagePlan, nil
	}
	return StageCritique, nil
}

func (p *Pipeline) stageCritique(ctx context.Context, st *turnState) (Stage, error) {
	raw, err := p.generator.Complete(ctx,
		llm.CritiquePrompt(st.Message, string(st.Classification.Intent), st.Memories))
	if err != nil {
		// The critic is advisory; proceed without it.
		log.Printf("Pipeline: critique call failed, proceeding unvetted: %v", err)
		return StagePlan, nil
	}

	critique, err := llm.ParseCritique(raw)
	if err != nil {
		log.Printf("Pipeline: unparseable critique, proceeding unvetted: %v", err)
		return StagePlan, nil
	}
	if !critique.Approved {
		st.Critique = critique.Concern
	}
	return StagePlan, nil
}

// stagePlan fixes the shape of the rest of the turn. An objection from the
// critic becomes the reply verbatim and the remaining stages pass through
// without writing or generating.
func (p *Pipeline) stagePlan(ctx context.Context, st *turnState) (Stage, error) {
	if st.Critique != "" {
		st.Reply = st.Critique
		st.replyFinal = true
	}
	return StageExecute, nil
}

func (p *Pipeline) stageExecute(ctx context.Context, st *turnState) (Stage, error) {
	if st.replyFinal {
		return StageRespond, nil
	}
	switch st.Classification.Intent {
	case types.IntentStoreNote:
		if err := p.executeStoreNote(ctx, st); err != nil {
			return StageEnd, err
		}
	case types.IntentCreateTask:
		if err := p.executeCreateTask(ctx, st); err != nil {
			return StageEnd, err
		}
	case types.IntentGetCredentials:
		// Secure note access is always audited, even before disclosure.
		if err := p.store.AppendAudit(ctx, &types.AuditEntry{
			ID:     "aud:" + uuid.NewString(),
			Action: "credentials_access",
			Details: map[string]interface{}{
				"query": st.Classification.SearchQuery,
			},
		}); err != nil {
			return StageEnd, fmt.Errorf("audit credentials access: %w", err)
		}
	case types.IntentUnknown:
		if st.Classification.Clarification != "" {
			st.Reply = st.Classification.Clarification
			st.replyFinal = true
		}
	case types.IntentSearchMemory:
		// Retrieval already happened; the response stage does the rest.
	}
	return StageRespond, nil
}

func (p *Pipeline) stageRespond(ctx context.Context, st *turnState) (Stage, error) {
	if st.replyFinal {
		return StageReflect, nil
	}

	reply, err := p.generator.Complete(ctx, llm.ResponsePrompt(st.Message, p.responseContext(st)))
	if err != nil {
		return StageEnd, fmt.Errorf("generate response: %w", err)
	}
	st.Reply = reply
	return StageReflect, nil
}

func (p *Pipeline) stageReflect(ctx context.Context, st *turnState) (Stage, error) {
	// Loyalty creeps up with every completed interaction.
	st.Profile.Stats.LoyaltyScore += 0.1
	if st.Profile.Stats.LoyaltyScore > 100 {
		st.Profile.Stats.LoyaltyScore = 100
	}
	st.Profile.Stats.InteractionCount++
	if err := p.store.UpdateProfile(ctx, st.Profile); err != nil {
		log.Printf("Pipeline: profile update failed: %v", err)
	}

	// Biography mining runs off-turn; its failures never reach the user.
	message, reply := st.Message, st.Reply
	profileID := st.Profile.ID
	p.dispatch(&Job{Name: "reflect", Run: func(jobCtx context.Context) error {
		return p.reflectBio(jobCtx, profileID, message, reply)
	}})

	return StageEnd, nil
}

// reflectBio asks the LLM for durable facts about the user in the finished
// exchange and merges them into the profile.
func (p *Pipeline) reflectBio(ctx context.Context, profileID, message, reply string) error {
	raw, err := p.generator.Complete(ctx, llm.ReflectionPrompt(message, reply))
	if err != nil {
		return fmt.Errorf("reflection call: %w", err)
	}
	facts, err := llm.ParseBioFacts(raw)
	if err != nil || facts.Empty() {
		return nil
	}

	profile, err := p.store.LoadOrCreateProfile(ctx, types.DefaultProfile(p.cfg.UserName))
	if err != nil {
		return fmt.Errorf("reflection profile load: %w", err)
	}
	if profile.ID != profileID {
		return nil
	}

	profile.BioMemory.Routines = appendNew(profile.BioMemory.Routines, facts.Routines)
	profile.BioMemory.LifeEvents = appendNew(profile.BioMemory.LifeEvents, facts.LifeEvents)
	if profile.BioMemory.Preferences == nil {
		profile.BioMemory.Preferences = map[string]string{}
	}
	for k, v := range facts.Preferences {
		profile.BioMemory.Preferences[k] = v
	}
	return p.store.UpdateProfile(ctx, profile)
}

func (p *Pipeline) executeStoreNote(ctx context.Context, st *turnState) error {
	note, err := p.memory.Save(ctx, st.Message, st.Classification.Entities, st.Profile.ID)
	if err != nil {
		return fmt.Errorf("store note: %w", err)
	}
	st.ActionTaken = "remembered what they just told you"

	// Graph growth happens off-turn.
	entities, err := p.store.NoteEntities(ctx, note.ID)
	if err != nil {
		log.Printf("Pipeline: could not load note entities for linking: %v", err)
		return nil
	}
	facts := st.Classification.Facts
	message := st.Message
	profileID := st.Profile.ID

	p.dispatch(&Job{Name: "cooccurrence", Run: func(jobCtx context.Context) error {
		return p.linker.LinkCooccurrence(jobCtx, entities)
	}})
	p.dispatch(&Job{Name: "explicit-facts", Run: func(jobCtx context.Context) error {
		return p.linker.LinkExplicit(jobCtx, facts)
	}})
	for _, entity := range entities {
		e := entity
		p.dispatch(&Job{Name: "autolink " + e.Name, Run: func(jobCtx context.Context) error {
			return p.linker.Autolink(jobCtx, e, message, profileID)
		}})
	}
	return nil
}

func (p *Pipeline) executeCreateTask(ctx context.Context, st *turnState) error {
	details := st.Classification.Task
	if details == nil {
		return fmt.Errorf("create task: classification carried no task payload")
	}

	task := &types.Task{
		Title:    details.Title,
		Status:   types.TaskPending,
		Priority: details.Priority,
	}
	if details.DueDate != "" {
		due, err := time.Parse(time.RFC3339, details.DueDate)
		if err != nil {
			// A date the model mangled is recoverable; an unfiled task is not.
			log.Printf("Pipeline: unparseable due date %q, filing task without one", details.DueDate)
		} else {
			task.DueDate = &due
		}
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	st.ActionTaken = fmt.Sprintf("filed the task %q", task.Title)
	return nil
}

// urgentTasks renders open tasks due within the urgency window. Errors
// degrade to an empty block.
func (p *Pipeline) urgentTasks(ctx context.Context) string {
	horizon := time.Now().Add(time.Duration(p.cfg.UrgentHours) * time.Hour)
	tasks, err := p.store.DueTasks(ctx, horizon)
	if err != nil {
		log.Printf("Pipeline: due task lookup failed: %v", err)
		return ""
	}
	if len(tasks) == 0 {
		return ""
	}

	lines := make([]string, len(tasks))
	for i, t := range tasks {
		when := "no due date"
		if t.DueDate != nil {
			when = "due " + t.DueDate.Format("2006-01-02 15:04")
		}
		lines[i] = fmt.Sprintf("- %s (%s)", t.Title, when)
	}
	return strings.Join(lines, "\n")
}

func (p *Pipeline) responseContext(st *turnState) llm.ResponseContext {
	return llm.ResponseContext{
		UserName:    st.Profile.Name,
		Tone:        st.Profile.BioMemory.Tone,
		Intent:      string(st.Classification.Intent),
		Memories:    st.Memories,
		GraphFacts:  st.GraphFacts,
		UrgentTasks: st.UrgentTasks,
		ActionTaken: st.ActionTaken,
	}
}

// dispatch hands a job to the background pool, or runs it inline when the
// pipeline was built without one (tests, one-shot CLI use).
func (p *Pipeline) dispatch(job *Job) {
	if p.dispatcher != nil {
		p.dispatcher.Enqueue(job)
		return
	}
	if err := job.Run(context.Background()); err != nil {
		log.Printf("Pipeline: inline job %q failed: %v", job.Name, err)
	}
}

func entityNames(entities []types.ExtractedEntity) []string {
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	return names
}

func appendNew(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if s != "" && !seen[s] {
			existing = append(existing, s)
			seen[s] = true
		}
	}
	return existing
}

