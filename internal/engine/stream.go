package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ceobrain/cortex/internal/llm"
)

const (
	// streamBufferSize bounds the event channel so a slow consumer applies
	// backpressure instead of growing memory.
	streamBufferSize = 64

	// DefaultStreamBudget caps how long one streamed turn may take before
	// it is cut off with an apology.
	DefaultStreamBudget = 5 * time.Second
)

// EventKind discriminates stream events.
type EventKind string

const (
	// EventThinking narrates pipeline progress before tokens arrive.
	EventThinking EventKind = "THINKING"

	// EventToken carries a chunk of the final reply.
	EventToken EventKind = "TOKEN"
)

// Event is one item on a streamed turn.
type Event struct {
	Kind EventKind
	Text string
}

// String renders the wire form, e.g. "THINKING: consulting memory".
func (e Event) String() string {
	return string(e.Kind) + ": " + e.Text
}

// narration maps stages to the progress lines shown while they run.
// Stages absent here run silently.
var narration = map[Stage]string{
	StageRoute:    "working out what you need",
	StageRetrieve: "consulting memory",
	StageCritique: "double-checking against what I know",
	StageExecute:  "taking care of it",
}

// greetings are fast-tracked: no stages, no LLM, one canned token. Keyed by
// the lowercased message with trailing punctuation stripped.
var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "hiya": true,
	"howdy": true, "good morning": true, "good afternoon": true,
	"good evening": true,
}

// Stream runs one conversation turn, emitting THINKING events as stages
// progress and TOKEN events as the reply is generated. The channel closes
// when the turn completes, the budget expires, or ctx is cancelled.
func (p *Pipeline) Stream(ctx context.Context, message string, budget time.Duration) <-chan Event {
	if budget <= 0 {
		budget = DefaultStreamBudget
	}
	events := make(chan Event, streamBufferSize)

	if reply, ok := p.greetingReply(message); ok {
		events <- Event{Kind: EventToken, Text: reply}
		close(events)
		return events
	}

	go p.runStream(ctx, message, budget, events)
	return events
}

// shortGreetingLimit bounds the inputs eligible for substring greeting
// detection; anything longer probably carries a real request.
const shortGreetingLimit = 12

// greetingReply short-circuits trivial salutations. Nothing here is worth a
// ten-stage round trip through the LLM.
func (p *Pipeline) greetingReply(message string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, "!.?, ")
	if !isGreeting(normalized) {
		return "", false
	}
	return fmt.Sprintf("Hello %s. What can I do for you?", p.cfg.UserName), true
}

// isGreeting matches the vocabulary exactly, as a leading word ("hi there"),
// or as a whole word inside a very short message ("oh hi"). Substring hits
// inside longer words ("this") do not count.
func isGreeting(s string) bool {
	if s == "" {
		return false
	}
	if greetings[s] {
		return true
	}
	for g := range greetings {
		if strings.HasPrefix(s, g+" ") || strings.HasPrefix(s, g+",") {
			return true
		}
	}
	if len(s) > shortGreetingLimit {
		return false
	}
	for _, word := range strings.Fields(s) {
		if greetings[strings.TrimRight(word, "!.?,")] {
			return true
		}
	}
	return false
}

func (p *Pipeline) runStream(ctx context.Context, message string, budget time.Duration, events chan<- Event) {
	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			emitFinal(events, p.apology(fmt.Errorf("panic: %v", r)))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// emit blocks on the consumer but gives up when the budget runs out.
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	st := &turnState{Message: message}
	st.observer = func(stage Stage) {
		if text, ok := narration[stage]; ok {
			emit(Event{Kind: EventThinking, Text: text})
		}
	}

	streamed := false
	stage := StageProfile
	for stage != StageEnd {
		if ctx.Err() != nil {
			p.emitCutoff(events)
			return
		}

		// The respond stage streams tokens instead of blocking on the
		// full completion.
		if stage == StageRespond && !st.replyFinal {
			reply, ok := p.streamRespond(ctx, st, emit)
			if !ok {
				p.emitCutoff(events)
				return
			}
			st.Reply = reply
			streamed = true
			stage = StageReflect
			continue
		}

		fn, ok := p.stages[stage]
		if !ok {
			emitFinal(events, p.apology(fmt.Errorf("no handler for stage %s", stage)))
			return
		}
		st.visited = append(st.visited, stage)
		if st.observer != nil {
			st.observer(stage)
		}

		next, err := fn(ctx, st)
		if err != nil {
			// A stage killed by the budget is a cutoff, not a fault.
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				p.emitCutoff(events)
				return
			}
			emitFinal(events, p.apology(fmt.Errorf("stage %s: %w", stage, err)))
			return
		}
		stage = next
	}

	// Fast paths (critique rejection, clarification) arrive whole.
	if !streamed && st.Reply != "" {
		emitFinal(events, st.Reply)
	}
}

// streamRespond streams the persona completion token by token. Returns the
// accumulated reply and whether streaming completed within budget.
func (p *Pipeline) streamRespond(ctx context.Context, st *turnState, emit func(Event) bool) (string, bool) {
	if p.streamer == nil {
		// No streaming backend; fall back to the blocking completion.
		reply, err := p.generator.Complete(ctx, llm.ResponsePrompt(st.Message, p.responseContext(st)))
		if err != nil {
			if ctx.Err() != nil {
				return "", false
			}
			reply = p.apology(fmt.Errorf("generate response: %w", err))
		}
		return reply, emit(Event{Kind: EventToken, Text: reply})
	}

	tokens, err := p.streamer.Stream(ctx, llm.ResponsePrompt(st.Message, p.responseContext(st)))
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		apology := p.apology(fmt.Errorf("stream response: %w", err))
		return apology, emit(Event{Kind: EventToken, Text: apology})
	}

	var reply strings.Builder
	for {
		select {
		case tok, open := <-tokens:
			if !open {
				return reply.String(), true
			}
			reply.WriteString(tok)
			if !emit(Event{Kind: EventToken, Text: tok}) {
				return reply.String(), false
			}
		case <-ctx.Done():
			return reply.String(), false
		}
	}
}

// emitCutoff leaves a trace when the budget expired mid-turn.
func (p *Pipeline) emitCutoff(events chan<- Event) {
	log.Printf("Pipeline: stream budget exhausted")
	emitFinal(events, "I ran out of time on that one. Ask me again?")
}

// emitFinal delivers a terminal token. It must not block on a consumer and
// must not race an expired context, so it relies on the channel's buffer;
// the stream ends with this event, so buffer space is only missing when the
// consumer has fallen a full buffer behind.
func emitFinal(events chan<- Event, text string) {
	select {
	case events <- Event{Kind: EventToken, Text: text}:
	default:
	}
}
