package prevday

import (
	"context"
	"fmt"
	"time"

	apperrors "optionchain/internal/errors"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/pkg/utils"
)

// WarmKey identifies one warm shard.
func WarmKey(symbol string, expiry time.Time, shard int) string {
	return fmt.Sprintf("%s:%s:%d", symbol, expiry.Format(utils.DayLayout), shard)
}

// StartWarm submits background jobs that fill the cache for tokens, which
// should be ordered by proximity to spot. Nothing is submitted while coverage
// is at or above the threshold. Shards whose job is still queued or running
// are skipped. It returns the number of jobs submitted and never blocks.
func (s *Store) StartWarm(symbol string, expiry time.Time, tokens []uint32) int {
	if len(tokens) == 0 || s.Coverage(tokens) >= s.cfg.CoverageThreshold {
		return 0
	}

	shards := make([][]uint32, s.cfg.Shards)
	for i, tok := range tokens {
		shards[i%s.cfg.Shards] = append(shards[i%s.cfg.Shards], tok)
	}

	submitted := 0
	for shard, toks := range shards {
		if len(toks) == 0 {
			continue
		}
		key := WarmKey(symbol, expiry, shard)
		if s.pool.Busy(key) {
			metrics.WarmJobs.WithLabelValues("skipped").Inc()
			continue
		}

		s.jobMu.Lock()
		s.jobs[key] = models.WarmJob{Key: key, Symbol: symbol, Expiry: expiry, Shard: shard, Tokens: len(toks)}
		s.jobMu.Unlock()

		toks := toks
		if !s.pool.Submit(key, func(ctx context.Context) { s.warm(ctx, key, toks) }) {
			s.jobMu.Lock()
			delete(s.jobs, key)
			s.jobMu.Unlock()
			metrics.WarmJobs.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.WarmJobs.WithLabelValues("started").Inc()
		submitted++
	}

	if submitted > 0 {
		s.logger.Debug().
			Str("symbol", symbol).
			Str("expiry", expiry.Format(utils.DayLayout)).
			Int("tokens", len(tokens)).
			Int("jobs", submitted).
			Msg("Previous-day warm started")
	}
	return submitted
}

// warm fetches every uncached token in order, pacing calls and honouring the
// shared cooldown. Progress is flushed to disk at every pause.
func (s *Store) warm(ctx context.Context, key string, tokens []uint32) {
	metrics.WarmJobsRunning.Inc()
	defer metrics.WarmJobsRunning.Dec()
	defer func() {
		s.jobMu.Lock()
		delete(s.jobs, key)
		s.jobMu.Unlock()
	}()

	day := s.PreviousTradingDay(s.now())
	dayKey := s.ensureDay(day)
	pending := make(map[uint32]models.PrevDayRecord)
	flush := func() {
		if err := s.persist(day, pending); err != nil {
			s.logger.Error().Err(err).Str("job", key).Msg("Failed to write day file")
		}
		pending = make(map[uint32]models.PrevDayRecord)
	}
	defer flush()

	calls, fetched := 0, 0
	for _, tok := range tokens {
		if ctx.Err() != nil {
			metrics.WarmJobs.WithLabelValues("cancelled").Inc()
			return
		}
		if _, ok := s.lookup(dayKey, tok); ok {
			continue
		}
		if wait := s.governor.Remaining(models.ScopePrevDay); wait > 0 {
			s.logger.Debug().Str("job", key).Dur("wait", wait).Msg("Warm job waiting for cooldown")
			if utils.Sleep(ctx, wait) != nil {
				metrics.WarmJobs.WithLabelValues("cancelled").Inc()
				return
			}
		}

		rec, ok, err := s.fetchOne(ctx, tok, day)
		calls++
		switch {
		case err != nil && apperrors.IsRateLimited(err):
			s.governor.Engage(models.ScopePrevDay, s.cfg.Cooldown)
			if utils.Sleep(ctx, s.cfg.RateLimitBackoff) != nil {
				metrics.WarmJobs.WithLabelValues("cancelled").Inc()
				return
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				metrics.WarmJobs.WithLabelValues("cancelled").Inc()
				return
			}
			s.logger.Debug().Err(err).Uint32("token", tok).Msg("Warm fetch failed")
		case ok:
			s.remember(dayKey, map[uint32]models.PrevDayRecord{tok: rec})
			pending[tok] = rec
			fetched++
		}

		pause := s.cfg.CallPacing
		if calls%s.cfg.PauseEvery == 0 {
			pause = s.cfg.PauseFor
			flush()
		}
		if utils.Sleep(ctx, pause) != nil {
			metrics.WarmJobs.WithLabelValues("cancelled").Inc()
			return
		}
	}

	metrics.WarmJobs.WithLabelValues("completed").Inc()
	s.logger.Debug().Str("job", key).Int("calls", calls).Int("fetched", fetched).Msg("Warm job completed")
}

// Jobs returns the queued and running warm jobs ordered by key.
func (s *Store) Jobs() []models.WarmJob {
	states := s.pool.Jobs()

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	out := make([]models.WarmJob, 0, len(states))
	for _, st := range states {
		job, ok := s.jobs[st.Key]
		if !ok {
			job = models.WarmJob{Key: st.Key}
		}
		job.Running = st.Running
		job.StartedAt = st.StartedAt
		out = append(out, job)
	}
	return out
}

// Stop cancels warm jobs and waits for the workers to exit.
func (s *Store) Stop() {
	s.pool.Stop()
	s.jobMu.Lock()
	s.jobs = make(map[string]models.WarmJob)
	s.jobMu.Unlock()
}
