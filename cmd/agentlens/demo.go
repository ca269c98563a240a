package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/agentlens/agentlens"
	"github.com/agentlens/agentlens/hooks"
)

// runDemo records a simulated agent session: a research task fanning out
// concurrent tool calls, a flaky branch that recovers, a model call, and
// one deliberately failing pipeline so the viewer has a red trace.
func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	db := fs.String("db", "", "trace database path (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lens, err := agentlens.Open(agentlens.Config{
		DBPath: *db,
		Meta:   map[string]any{"demo": true},
	})
	if err != nil {
		return err
	}
	defer lens.Close(context.Background())

	log.Println("🚀 running demo agent")

	ctx := context.Background()
	if err := researchTask(ctx, lens); err != nil {
		return err
	}
	if err := lens.Trace(ctx, "flaky-deploy", brokenPipeline(lens)); err != nil {
		log.Printf("   flaky-deploy failed as scripted: %v", err)
	}

	if err := lens.Flush(ctx); err != nil {
		return fmt.Errorf("flushing records: %w", err)
	}
	return printSummary(ctx, lens)
}

func researchTask(ctx context.Context, lens *agentlens.Lens) error {
	h := hooks.Bind(lens)
	return lens.Trace(ctx, "research", func(ctx context.Context) error {
		lens.Meta(ctx, map[string]any{"topic": "embedded tracing", "agent": "demo"})

		step := h.StepStart(ctx, "plan", map[string]any{"questions": 2})
		think()
		h.StepEnd(step, []string{"search the web", "fetch citations", "summarize"})

		// Tools fan out on spawned contexts so their spans land under
		// the research root, not under each other.
		queries := []string{"embedded sqlite tracing", "span tree reconstruction"}
		results := make([]string, len(queries))
		var wg sync.WaitGroup
		for i, q := range queries {
			wg.Add(1)
			go func(ctx context.Context, i int, q string) {
				defer wg.Done()
				tok := h.ToolStart(ctx, "search", map[string]any{"q": q})
				think()
				hits := 2 + i
				h.ToolEnd(tok, map[string]any{"hits": hits})
				results[i] = fmt.Sprintf("%d hits for %q", hits, q)
			}(lens.Spawn(ctx), i, q)
		}
		wg.Wait()

		// The flaky branch: first attempt dies, the retry lands.
		tok := h.ToolStart(ctx, "fetch-citations", map[string]any{"attempt": 1})
		h.ToolErr(tok, errors.New("upstream 429"))
		lens.Event(ctx, "retry", map[string]any{"tool": "fetch-citations", "attempt": 2})
		tok = h.ToolStart(ctx, "fetch-citations", map[string]any{"attempt": 2})
		think()
		h.ToolEnd(tok, map[string]any{"citations": 4})

		model := h.ModelStart(ctx, "demo-llm", map[string]any{
			"prompt":  "summarize the findings",
			"sources": results,
		})
		think()
		h.ModelEnd(model, map[string]any{"summary": "embedded tracing works", "tokens": 96})
		return nil
	})
}

// brokenPipeline returns the scripted failure: preflight passes, then the
// deploy dies.
func brokenPipeline(lens *agentlens.Lens) func(context.Context) error {
	return func(ctx context.Context) error {
		_, span := lens.Enter(ctx, "preflight", nil)
		think()
		span.End("ok")
		lens.Event(ctx, "budget-check", map[string]any{"remaining": 0})
		return errors.New("quota exceeded: demo budget is zero")
	}
}

func printSummary(ctx context.Context, lens *agentlens.Lens) error {
	stats, err := lens.Query().SessionStats(ctx, lens.SessionID())
	if err != nil {
		return fmt.Errorf("reading back session: %w", err)
	}

	log.Printf("✅ captured %d traces, %d spans, %d events (%d failed trace)",
		stats.TraceCount, stats.SpanCount, stats.EventCount, stats.FailedTraces)
	log.Printf("   span duration p50 %.0fms, p95 %.0fms", stats.DurationP50MS, stats.DurationP95MS)
	log.Printf("   session %s stored in %s", lens.SessionID(), lens.Health().DBPath)
	log.Println("   inspect with: agentlens serve")
	return nil
}

// think sleeps a little so the demo timeline reads like real work.
func think() {
	time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
}
