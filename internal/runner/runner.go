package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/download"
	"github.com/nicferr/anacsync/internal/planner"
	"github.com/nicferr/anacsync/internal/utils"
)

// Exit codes surfaced by the run command.
const (
	ExitOK           = 0
	ExitNothingToDo  = 20
	ExitPartialFails = 30
	ExitAllFailed    = 40
)

type ItemResult struct {
	Item    planner.Item
	Outcome download.Outcome
}

// Summary aggregates a plan run.
type Summary struct {
	Total      int
	Succeeded  int
	Skipped    int
	Failed     int
	Bytes      int64
	ByStrategy map[string]int
	Results    []ItemResult
}

func (s Summary) ExitCode() int {
	switch {
	case s.Total == 0:
		return ExitNothingToDo
	case s.Failed == 0:
		return ExitOK
	case s.Succeeded+s.Skipped == 0:
		return ExitAllFailed
	default:
		return ExitPartialFails
	}
}

// Runner feeds plan items to the cascade manager with bounded
// parallelism. Duplicate destinations collapse to their first occurrence;
// two managers never share a destination path.
type Runner struct {
	cfg *config.Config
	mgr *download.Manager
}

func New(cfg *config.Config, mgr *download.Manager) *Runner {
	return &Runner{cfg: cfg, mgr: mgr}
}

func (r *Runner) Run(ctx context.Context, items []planner.Item) Summary {
	log := utils.GetLogger("runner")
	items = dedupeByDest(items)
	summary := Summary{Total: len(items), ByStrategy: make(map[string]int)}
	if len(items) == 0 {
		return summary
	}

	results := make([]ItemResult, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency())
	for i, item := range items {
		g.Go(func() error {
			out := r.mgr.Download(gctx, item)
			mu.Lock()
			results[i] = ItemResult{Item: item, Outcome: out}
			mu.Unlock()
			if out.OK() {
				log.Info().Str("op", "runner").Str("dest", item.DestPath).Msg("Done")
			} else {
				log.Error().Str("op", "runner").Str("dest", item.DestPath).
					Msg("Failed: " + download.RenderOf(out.Err))
			}
			return nil
		})
	}
	g.Wait()

	for _, res := range results {
		out := res.Outcome
		switch {
		case out.OK() && out.Skipped:
			summary.Skipped++
		case out.OK():
			summary.Succeeded++
			summary.ByStrategy[out.Strategy]++
		default:
			summary.Failed++
		}
		summary.Bytes += out.Bytes
	}
	summary.Results = results
	return summary
}

// Decision is one dry-run line: the manager's opening move for an item.
type Decision struct {
	Item     planner.Item
	Strategy string
	Err      error
}

// DryRun reports the intended first strategy per item without opening
// any socket.
func (r *Runner) DryRun(items []planner.Item) []Decision {
	items = dedupeByDest(items)
	decisions := make([]Decision, 0, len(items))
	for _, item := range items {
		strat, err := r.mgr.FirstStrategy(item)
		decisions = append(decisions, Decision{Item: item, Strategy: strat, Err: err})
	}
	return decisions
}

func (r *Runner) concurrency() int {
	n := r.cfg.Downloader.MaxConcurrency
	if n < 1 {
		n = 1
	}
	if n > 2 {
		n = 2
	}
	return n
}

func dedupeByDest(items []planner.Item) []planner.Item {
	seen := make(map[string]bool, len(items))
	out := make([]planner.Item, 0, len(items))
	for _, item := range items {
		if seen[item.DestPath] {
			continue
		}
		seen[item.DestPath] = true
		out = append(out, item)
	}
	return out
}
