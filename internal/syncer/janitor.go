package syncer

import (
	"context"
	"time"

	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/developingchet/regionsync/internal/pool"
	"github.com/developingchet/regionsync/internal/storage"
	"github.com/rs/zerolog"
)

// Janitor keeps the audit log bounded and refreshes the storage and queue gauges.
type Janitor struct {
	store     storage.Store
	updates   *pool.Pool
	every     time.Duration
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewJanitor returns a Janitor. updates may be nil when no pool is running,
// as in the CLI.
func NewJanitor(store storage.Store, updates *pool.Pool, every, retention time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		updates:   updates,
		every:     every,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("component", "janitor").Logger(),
	}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) error {
	j.tick()

	t := time.NewTicker(j.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	j.expireAudit()
	j.recordDBSize()
	if j.updates != nil {
		metrics.WorkerQueueDepth.Set(float64(j.updates.Depth()))
	}
}

// expireAudit drops audit entries recorded before now-retention.
func (j *Janitor) expireAudit() {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.PruneAuditBefore(cutoff)
	switch {
	case err != nil:
		j.log.Warn().Err(err).Time("cutoff", cutoff).Msg("audit expiry failed")
	case n > 0:
		j.log.Info().Int("expired", n).Time("cutoff", cutoff).Msg("expired audit entries")
	}
}

func (j *Janitor) recordDBSize() {
	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("could not stat local database")
		return
	}
	metrics.DBSizeBytes.Set(float64(size))
}
