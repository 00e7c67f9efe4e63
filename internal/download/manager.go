package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicferr/anacsync/internal/config"
	"github.com/nicferr/anacsync/internal/history"
	"github.com/nicferr/anacsync/internal/httpx"
	"github.com/nicferr/anacsync/internal/planner"
	"github.com/nicferr/anacsync/internal/sidecar"
	"github.com/nicferr/anacsync/internal/utils"
	"github.com/nicferr/anacsync/internal/verify"
)

// State of the cascade for one resource.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateRunning
	StateVerifying
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateRunning:
		return "running"
	case StateVerifying:
		return "verifying"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Outcome summarizes one plan item's trip through the cascade.
type Outcome struct {
	State    State
	Skipped  bool
	Bytes    int64
	Strategy string
	Err      error
}

func (o Outcome) OK() bool { return o.State == StateCommitted }

const (
	maxValidatorResets   = 3
	maxIntegrityRestarts = 2
)

// Manager owns the strategy cascade for the resources it is handed. One
// manager instance serves a whole run; destinations never overlap within
// a run (the plan runner guarantees it), so per-resource state lives on
// the stack of Download.
type Manager struct {
	cfg        *config.Config
	client     *httpx.Client
	store      *sidecar.Store
	hist       *history.Log
	strategies map[string]Strategy
	log        zerolog.Logger
}

func NewManager(cfg *config.Config, client *httpx.Client, store *sidecar.Store, hist *history.Log) *Manager {
	return &Manager{
		cfg:        cfg,
		client:     client,
		store:      store,
		hist:       hist,
		strategies: Registry(),
		log:        utils.GetLogger("download"),
	}
}

// Download drives one plan item from Idle to Committed or Failed.
func (m *Manager) Download(ctx context.Context, item planner.Item) Outcome {
	runID := uuid.NewString()
	dest := item.DestPath
	log := m.log.With().Str("dest", dest).Logger()

	sc, err := m.store.Load(dest)
	if err != nil {
		return Outcome{State: StateFailed, Err: err}
	}

	// Idempotent skip: a terminal sidecar matching the plan's expectations
	// means zero network and zero writes.
	if sc != nil && sc.Terminal() && m.matchesExpectations(sc, item) {
		log.Debug().Str("op", "download/manager").Msg("Already downloaded, skipping")
		return Outcome{State: StateCommitted, Skipped: true, Strategy: sc.Strategy}
	}

	// Re-download of a changed resource: the old final file gives way to
	// the new transfer so a partial state is never hidden behind a stale
	// artifact.
	if sc != nil && sc.Terminal() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return Outcome{State: StateFailed, Err: err}
		}
		if sc, err = m.store.Discard(dest, "superseded by "+item.Reason); err != nil {
			return Outcome{State: StateFailed, Err: err}
		}
	}

	// A crash inside Commit can leave the final file beside a non-terminal
	// sidecar; it goes back to the partial so the cascade re-verifies it.
	if sc != nil && !sc.Terminal() {
		if _, err := os.Stat(sidecar.PartPath(dest)); os.IsNotExist(err) {
			if _, err := os.Stat(dest); err == nil {
				if err := os.Rename(dest, sidecar.PartPath(dest)); err != nil {
					return Outcome{State: StateFailed, Err: err}
				}
			}
		}
	}

	// Probing.
	info, probeErr := m.client.Probe(ctx, item.ResourceURL)
	if probeErr != nil {
		if info != nil && info.StatusCode > 0 {
			e := classifyStatus(info.StatusCode)
			log.Error().Str("op", "download/manager").Err(probeErr).Msg("Probe failed")
			return Outcome{State: StateFailed, Err: e}
		}
		return Outcome{State: StateFailed, Err: classifyTransport(ctx, probeErr)}
	}
	sc, err = m.store.Update(dest, func(s *sidecar.Sidecar) {
		s.URL = item.ResourceURL
		s.DatasetSlug = item.DatasetSlug
		if item.ResourceName != "" {
			s.ResourceName = item.ResourceName
		}
		s.LastModified = info.LastModified
		if info.ContentLength != nil {
			s.ContentLength = info.ContentLength
		}
		ar := info.AcceptRanges
		s.AcceptRanges = &ar
	})
	if err != nil {
		return Outcome{State: StateFailed, Err: err}
	}

	// A new validator with partial progress on disk invalidates the
	// partial before any strategy runs.
	if sc.ETag != "" && info.ETag != "" && sc.ETag != info.ETag && sc.BytesWritten > 0 {
		log.Warn().Str("op", "download/manager").Msg("Validator changed since last run, resetting partial")
		if sc, err = m.store.Discard(dest, "validator changed between runs"); err != nil {
			return Outcome{State: StateFailed, Err: err}
		}
	}
	if sc, err = m.store.Update(dest, func(s *sidecar.Sidecar) {
		if info.ETag != "" {
			s.ETag = info.ETag
		}
	}); err != nil {
		return Outcome{State: StateFailed, Err: err}
	}

	return m.cascade(ctx, item, info, runID, log)
}

// cascade runs Running(s) transitions until commit, exhaustion, or a
// fatal error.
func (m *Manager) cascade(ctx context.Context, item planner.Item, info *httpx.ProbeInfo, runID string, log zerolog.Logger) Outcome {
	dest := item.DestPath
	order := m.cfg.Downloader.Strategies
	tried := make(map[string]bool)
	stalled := make(map[string]bool)
	validatorResets := 0
	integrityRestarts := 0
	startFrom := 0
	var totalBytes int64
	var lastErr error

	for {
		name, strat := m.pickStrategy(order, startFrom, tried, stalled, info)
		if strat == nil {
			if lastErr == nil {
				lastErr = newError(ClassFatal, "no_applicable_strategy", nil)
			}
			return Outcome{State: StateFailed, Bytes: totalBytes, Err: lastErr}
		}
		tried[name] = true

		advance := false
		for attempt := 0; attempt < m.cfg.Downloader.RetriesPerStrategy && !advance; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
				case <-ctx.Done():
					return Outcome{State: StateFailed, Bytes: totalBytes, Err: errInterrupted()}
				}
			}
			res := m.runAttempt(ctx, item, info, name, strat, runID)
			totalBytes += res.BytesWritten
			if res.OK {
				// Verifying.
				out, integrity := m.verifyAndCommit(ctx, item, name, totalBytes, log)
				if !integrity {
					return out
				}
				integrityRestarts++
				if integrityRestarts > maxIntegrityRestarts {
					return Outcome{State: StateFailed, Bytes: totalBytes,
						Err: newError(ClassFatal, "integrity_failed", nil)}
				}
				// Re-enter from the conservative end of the cascade.
				order = conservativeOrder(m.cfg.Downloader.Strategies)
				tried = make(map[string]bool)
				startFrom = 0
				lastErr = newError(ClassIntegrityFailed, "integrity_failed", nil)
				advance = true
				continue
			}
			lastErr = res.Err
			class := ClassOf(res.Err)
			log.Warn().Str("op", "download/manager").Str("strategy", name).
				Str("class", class.String()).Msg("Attempt failed: " + RenderOf(res.Err))

			switch class {
			case ClassRetryable:
				// absorbed in-strategy until the budget runs out
			case ClassStalled:
				stalled[name] = true
				advance = true
			case ClassValidatorChanged:
				validatorResets++
				if validatorResets > maxValidatorResets {
					return Outcome{State: StateFailed, Bytes: totalBytes,
						Err: newError(ClassFatal, "validator_flapping", res.Err)}
				}
				// Restart the cascade from the top with fresh identity.
				newInfo, perr := m.client.Probe(ctx, item.ResourceURL)
				if perr != nil {
					return Outcome{State: StateFailed, Bytes: totalBytes, Err: classifyTransport(ctx, perr)}
				}
				info = newInfo
				if _, err := m.store.Update(dest, func(s *sidecar.Sidecar) {
					s.ETag = newInfo.ETag
					s.LastModified = newInfo.LastModified
					if newInfo.ContentLength != nil {
						s.ContentLength = newInfo.ContentLength
					}
				}); err != nil {
					return Outcome{State: StateFailed, Bytes: totalBytes, Err: err}
				}
				order = m.cfg.Downloader.Strategies
				tried = make(map[string]bool)
				startFrom = 0
				advance = true
			case ClassUnsupported:
				advance = true
			case ClassFatal:
				return Outcome{State: StateFailed, Bytes: totalBytes, Err: res.Err}
			default:
				advance = true
			}
		}
	}
}

// conservativeOrder rotates the configured order so s4_shortconn leads,
// for re-runs after an integrity failure.
func conservativeOrder(configured []string) []string {
	order := []string{StrategyShortConn, StrategyTailFirst}
	for _, name := range configured {
		if name != StrategyShortConn && name != StrategyTailFirst {
			order = append(order, name)
		}
	}
	return order
}

// runAttempt wraps one strategy invocation with the stall detector,
// retry accounting, and history emission.
func (m *Manager) runAttempt(ctx context.Context, item planner.Item, info *httpx.ProbeInfo, name string, strat Strategy, runID string) Result {
	mon := NewMonitor(time.Duration(m.cfg.Downloader.SwitchAfterSecondsWithoutProgress) * time.Second)
	wctx, stop := mon.Watch(ctx)
	defer stop()

	req := &Request{
		URL:          item.ResourceURL,
		Dest:         item.DestPath,
		DatasetSlug:  item.DatasetSlug,
		ResourceName: item.ResourceName,
		Info:         info,
		Client:       m.client,
		Store:        m.store,
		Cfg:          m.cfg.Downloader,
		Monitor:      mon,
		Log:          m.log,
	}
	start := time.Now().UTC()
	m.store.Update(item.DestPath, func(s *sidecar.Sidecar) {
		s.Retries++
		s.Strategy = name
	})
	res := strat.Fetch(wctx, req)
	end := time.Now().UTC()

	attempt := history.Attempt{
		RunID:       runID,
		ResourceURL: item.ResourceURL,
		DestPath:    item.DestPath,
		Strategy:    name,
		Start:       start.Format(time.RFC3339),
		End:         end.Format(time.RFC3339),
		Bytes:       res.BytesWritten,
		OK:          res.OK,
	}
	if res.Err != nil {
		attempt.Error = RenderOf(res.Err)
	}
	if err := m.hist.Append(attempt); err != nil {
		m.log.Error().Str("op", "download/manager").Err(err).Msg("Failed to append history record")
	}
	return res
}

// verifyAndCommit hashes the partial and checks validators. On success
// it commits atomically and returns the final outcome; on an integrity
// mismatch it discards the partial and reports integrity=true so the
// cascade can re-enter conservatively.
func (m *Manager) verifyAndCommit(ctx context.Context, item planner.Item, strategyName string, totalBytes int64, log zerolog.Logger) (Outcome, bool) {
	dest := item.DestPath
	sc, err := m.store.Load(dest)
	if err != nil || sc == nil {
		return Outcome{State: StateFailed, Bytes: totalBytes, Err: fmt.Errorf("sidecar missing at verify: %v", err)}, false
	}
	sum, verr := verify.Check(sidecar.PartPath(dest), sc.ContentLength, sc.ETag, "")
	if verr != nil {
		if !errors.Is(verr, verify.ErrIntegrity) {
			return Outcome{State: StateFailed, Bytes: totalBytes, Err: verr}, false
		}
		log.Warn().Str("op", "download/manager").Msg("Integrity check failed, restarting from conservative strategy")
		if _, err := m.store.Discard(dest, "corrupted"); err != nil {
			return Outcome{State: StateFailed, Bytes: totalBytes, Err: err}, false
		}
		return Outcome{}, true
	}
	if err := m.store.Commit(dest, sc, sum, strategyName); err != nil {
		return Outcome{State: StateFailed, Bytes: totalBytes, Err: classifyTransport(ctx, err)}, false
	}
	log.Info().Str("op", "download/manager").Str("strategy", strategyName).
		Msg("Download committed (" + utils.FormatBytes(uint64(sc.BytesWritten)) + ")")
	return Outcome{State: StateCommitted, Bytes: totalBytes, Strategy: strategyName}, false
}

func (m *Manager) matchesExpectations(sc *sidecar.Sidecar, item planner.Item) bool {
	if item.ExpectedETag != "" && sc.ETag != "" && item.ExpectedETag != sc.ETag {
		return false
	}
	if item.ExpectedSize != nil && sc.ContentLength != nil && *item.ExpectedSize != *sc.ContentLength {
		return false
	}
	return true
}

// pickStrategy returns the next runnable strategy: first in configured
// order, untried, applicable, and not previously stalled in this run.
// Stalled strategies become eligible again only when nothing else is
// left.
func (m *Manager) pickStrategy(order []string, startFrom int, tried, stalledSet map[string]bool, info *httpx.ProbeInfo) (string, Strategy) {
	for pass := 0; pass < 2; pass++ {
		for i := startFrom; i < len(order); i++ {
			name := order[i]
			strat, ok := m.strategies[name]
			if !ok || tried[name] {
				continue
			}
			if pass == 0 && stalledSet[name] {
				continue
			}
			if !strat.Applicable(info, m.cfg.Downloader) {
				continue
			}
			return name, strat
		}
	}
	return "", nil
}

// FirstStrategy reports the cascade's opening move for an item without
// touching the network. Used by dry runs.
func (m *Manager) FirstStrategy(item planner.Item) (string, error) {
	sc, err := m.store.Load(item.DestPath)
	if err != nil {
		return "", err
	}
	if sc != nil && sc.Terminal() && m.matchesExpectations(sc, item) {
		return "skip", nil
	}
	// Applicability from what the sidecar already knows; an unprobed
	// resource offers no range knowledge, which rules out S2 and S5.
	info := &httpx.ProbeInfo{}
	if sc != nil {
		if sc.AcceptRanges != nil {
			info.AcceptRanges = *sc.AcceptRanges
		}
		info.ContentLength = sc.ContentLength
		info.ETag = sc.ETag
	}
	for _, name := range m.cfg.Downloader.Strategies {
		strat, ok := m.strategies[name]
		if !ok {
			continue
		}
		if strat.Applicable(info, m.cfg.Downloader) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no applicable strategy for %s", filepath.Base(item.DestPath))
}
