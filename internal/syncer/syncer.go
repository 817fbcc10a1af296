// Package syncer wires the region feed, caches, renderer bridge and edit
// pipeline into one running service.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/developingchet/regionsync/internal/bridge"
	"github.com/developingchet/regionsync/internal/config"
	"github.com/developingchet/regionsync/internal/docstore"
	"github.com/developingchet/regionsync/internal/identity"
	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/developingchet/regionsync/internal/pool"
	"github.com/developingchet/regionsync/internal/region"
	"github.com/developingchet/regionsync/internal/role"
	"github.com/developingchet/regionsync/internal/stats"
	"github.com/developingchet/regionsync/internal/storage"
	"github.com/developingchet/regionsync/internal/subscription"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidUserID is returned by Login for an empty or oversized user id.
var ErrInvalidUserID = errors.New("invalid user id")

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

// Service keeps the region snapshot in sync and serves renderers.
type Service struct {
	cfg   *config.Config
	docs  docstore.Store
	store storage.Store
	ident identity.Provider
	log   zerolog.Logger

	regions  *region.Cache
	roles    *role.Cache
	gate     *role.Gate
	subs     *subscription.Manager
	hub      *bridge.Hub
	pool     *pool.Pool
	validate *validator.Validate

	// applyMu orders cold-start and push snapshots so a late one-shot read
	// never overwrites a pushed snapshot.
	applyMu sync.Mutex

	// feedMu guards the supervision goroutine, which sign-in and sign-out
	// stop and restart. feedParent is the Run context, nil before Run.
	feedMu     sync.Mutex
	feedParent context.Context
	feedCancel context.CancelFunc
	feedDone   chan struct{}

	statsMu sync.RWMutex
	stats   stats.Snapshot
}

// New constructs a fully wired Service. Nothing runs until Run.
func New(cfg *config.Config, docs docstore.Store, store storage.Store,
	ident identity.Provider, log zerolog.Logger) (*Service, error) {

	s := &Service{
		cfg:      cfg,
		docs:     docs,
		store:    store,
		ident:    ident,
		log:      log,
		regions:  region.NewCache(),
		subs:     subscription.NewManager(docs, log.With().Str("component", "subscription").Logger()),
		validate: validator.New(),
	}
	s.roles = role.NewCache(store, docs, log.With().Str("component", "role").Logger())
	s.gate = role.NewGate(s.roles)
	s.hub = bridge.NewHub(s.roles, cfg.BridgeAllowedOrigins, log.With().Str("component", "bridge").Logger())
	s.hub.SetEditHandler(s)

	p, err := pool.New(pool.Config{
		Workers:    cfg.PoolWorkers,
		QueueDepth: cfg.PoolQueueDepth,
		MaxRetries: cfg.PoolMaxRetries,
		RetryBase:  cfg.PoolRetryBase,
	}, s.applyUpdate, s.reportResult, log)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	s.pool = p

	s.regions.Observe(s.onRegions)
	s.roles.OnChange(func(st role.State) {
		s.hub.PublishRole(st.Role)
	})
	return s, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a fatal error occurs.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().Str("version", BinaryVersion).Str("collection", s.cfg.RegionsCollection).
		Bool("dry_run", s.cfg.DryRun).Msg("sync service starting")
	g, gctx := errgroup.WithContext(ctx)

	s.pool.Start(gctx)
	s.refreshRole(gctx)

	s.feedMu.Lock()
	s.feedParent = gctx
	s.feedMu.Unlock()
	s.startFeed()

	g.Go(func() error {
		s.coldStart(gctx)
		return nil
	})

	g.Go(func() error {
		return s.serveBridge(gctx)
	})
	if s.cfg.MetricsEnabled {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}
	g.Go(func() error {
		return s.serveHealth(gctx)
	})

	janitor := NewJanitor(s.store, s.pool, s.cfg.JanitorInterval, s.cfg.AuditRetention, s.log)
	g.Go(func() error {
		return janitor.Run(gctx)
	})

	err := g.Wait()
	s.stopFeed()
	s.subs.Close()
	s.hub.Close()
	s.pool.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// refreshRole asks the remote store for the signed-in user's role. Without a
// user the cached role stands.
func (s *Service) refreshRole(ctx context.Context) {
	uid := s.ident.CurrentUserID()
	if uid == "" {
		s.log.Info().Str("role", s.roles.CachedRole().String()).Msg("no signed-in user; using cached role")
		return
	}
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	s.roles.FetchRemoteRole(fctx, uid)
}

// startFeed launches supervise unless it is already running or Run has ended.
func (s *Service) startFeed() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feedCancel != nil {
		return
	}
	parent := s.feedParent
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.feedCancel, s.feedDone = cancel, done
	go func() {
		defer close(done)
		_ = s.supervise(ctx)
	}()
}

// stopFeed stops supervise and waits for it to unsubscribe.
func (s *Service) stopFeed() {
	s.feedMu.Lock()
	cancel, done := s.feedCancel, s.feedDone
	s.feedCancel, s.feedDone = nil, nil
	s.feedMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// supervise keeps a push subscription open, resubscribing with exponential
// backoff after transport errors. The backoff resets once a resubscription
// delivers a snapshot.
func (s *Service) supervise(ctx context.Context) error {
	backoff := s.cfg.ResubscribeBase
	first := true

	for {
		var delivered bool
		var deliveredMu sync.Mutex
		errCh := make(chan error, 1)

		h := s.subs.Subscribe(func(regions []region.Region) {
			deliveredMu.Lock()
			delivered = true
			deliveredMu.Unlock()
			s.applySnapshot(regions)
		}, func(err error) {
			select {
			case errCh <- err:
			default:
			}
		})
		if !first {
			metrics.Resubscribes.Inc()
		}
		first = false

		select {
		case <-ctx.Done():
			s.subs.Unsubscribe(h)
			return nil
		case err := <-errCh:
			deliveredMu.Lock()
			if delivered {
				backoff = s.cfg.ResubscribeBase
			}
			deliveredMu.Unlock()

			s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("region feed lost; resubscribing")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.cfg.ResubscribeMax {
				backoff = s.cfg.ResubscribeMax
			}
		}
	}
}

// coldStart applies a one-shot read unless a pushed snapshot got there first.
func (s *Service) coldStart(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	var res subscription.FetchResult
	select {
	case <-ctx.Done():
		return
	case res = <-s.subs.FetchOnce(fctx):
	}
	if res.Err != nil {
		s.log.Warn().Err(res.Err).Msg("initial region read failed; waiting for feed")
		return
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.regions.Version() > 0 {
		s.log.Debug().Msg("initial region read superseded by feed")
		return
	}
	metrics.SnapshotsReceived.WithLabelValues("fetch").Inc()
	s.regions.Replace(res.Regions)
}

func (s *Service) applySnapshot(regions []region.Region) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.regions.Replace(regions)
}

// onRegions runs after every cache replacement.
func (s *Service) onRegions(regions []region.Region) {
	snap := stats.Calculate(regions)

	s.statsMu.Lock()
	s.stats = snap
	s.statsMu.Unlock()

	for _, st := range append([]region.Status{region.Unknown}, region.Known...) {
		metrics.Regions.WithLabelValues(st.String()).Set(float64(snap.Count(st)))
	}
	s.log.Info().Str("stats", snap.String()).Bool("all_normal", snap.AllNormal()).
		Msg("region snapshot applied")

	if err := s.hub.PublishRegions(regions); err != nil {
		s.log.Error().Err(err).Msg("could not publish regions to renderers")
	}
}

// Stats returns the statistics of the current snapshot.
func (s *Service) Stats() stats.Snapshot {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Regions returns the current snapshot.
func (s *Service) Regions() []region.Region {
	return s.regions.All()
}

// Ready reports whether a snapshot has been applied and the feed is live.
func (s *Service) Ready() bool {
	return s.regions.Version() > 0 && s.subs.Active() != nil
}

// Hub exposes the renderer bridge.
func (s *Service) Hub() *bridge.Hub {
	return s.hub
}

// Login signs uid in, fetches their role and restarts the region feed under
// the new identity. The returned role is the fallback one when the fetch fails.
func (s *Service) Login(ctx context.Context, uid string) (role.Role, error) {
	if err := s.validate.Var(uid, "required,max=128"); err != nil {
		return role.User, fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	if err := s.ident.SignIn(uid); err != nil {
		return role.User, fmt.Errorf("sign in: %w", err)
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	r := s.roles.FetchRemoteRole(fctx, uid)
	cancel()

	s.stopFeed()
	s.subs.Close()
	s.startFeed()
	s.log.Info().Str("user", uid).Str("role", r.String()).Msg("signed in; region feed restarted")
	return r, nil
}

// Logout signs the user out, forgets their role and stops the feed until the
// next Login.
func (s *Service) Logout(ctx context.Context) error {
	var errs []error
	if err := s.ident.SignOut(); err != nil {
		errs = append(errs, fmt.Errorf("sign out: %w", err))
	}
	if err := s.roles.Clear(); err != nil {
		errs = append(errs, err)
	}
	s.stopFeed()
	s.subs.Close()
	s.log.Info().Msg("logged out; region feed stopped")
	return errors.Join(errs...)
}
