package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/developingchet/regionsync/internal/bridge"
	"github.com/developingchet/regionsync/internal/docstore"
	"github.com/developingchet/regionsync/internal/metrics"
	"github.com/developingchet/regionsync/internal/pool"
	"github.com/developingchet/regionsync/internal/region"
	"github.com/developingchet/regionsync/internal/role"
	"github.com/developingchet/regionsync/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Outcome is what HandleEdit did with an edit.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeDenied
	OutcomeQueued
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDenied:
		return "denied"
	case OutcomeQueued:
		return "queued"
	case OutcomeDropped:
		return "dropped"
	default:
		return "invalid"
	}
}

// Audit outcomes.
const (
	auditInvalid = "invalid"
	auditDenied  = "denied"
	auditApplied = "applied"
	auditFailed  = "failed"
)

// ErrQueueFull is returned when an allowed edit cannot be queued.
var ErrQueueFull = errors.New("update queue full")

// ValidationError reports an edit rejected before any remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid edit: %s %s", e.Field, e.Reason)
}

// OnEdit implements bridge.EditHandler.
func (s *Service) OnEdit(ctx context.Context, sessionID string, cmd bridge.EditCommand) {
	outcome, err := s.HandleEdit(ctx, sessionID, cmd)
	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("session", sessionID).Str("region", cmd.RegionID).Str("outcome", outcome.String()).
		Msg("edit handled")
}

// HandleEdit validates and authorizes an edit, then queues it for the remote
// store. A Denied edit returns OutcomeDenied with a nil error and never
// reaches the remote store.
func (s *Service) HandleEdit(ctx context.Context, sessionID string, cmd bridge.EditCommand) (Outcome, error) {
	cmd.RegionID = strings.TrimSpace(cmd.RegionID)
	cmd.Status = strings.TrimSpace(cmd.Status)
	uid := s.ident.CurrentUserID()

	if verr := s.validateEdit(cmd); verr != nil {
		metrics.EditsReceived.WithLabelValues(OutcomeInvalid.String()).Inc()
		s.audit(storage.AuditEntry{
			RegionID: cmd.RegionID, Status: cmd.Status, Info: cmd.Info, UserID: uid,
			Outcome: auditInvalid, Error: verr.Error(),
		})
		s.hub.Notice(sessionID, "Edit rejected: "+verr.Field+" "+verr.Reason)
		return OutcomeInvalid, verr
	}

	if s.gate.Authorize() != role.Allowed {
		metrics.EditsReceived.WithLabelValues(OutcomeDenied.String()).Inc()
		s.audit(storage.AuditEntry{
			RegionID: cmd.RegionID, Status: cmd.Status, Info: cmd.Info, UserID: uid,
			Outcome: auditDenied, Error: role.ErrPermissionDenied.Error(),
		})
		s.hub.Notice(sessionID, "Only admins can change region status.")
		s.log.Info().Str("region", cmd.RegionID).Str("user", uid).Msg("edit denied")
		return OutcomeDenied, nil
	}

	job := pool.UpdateJob{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		UserID:     uid,
		RegionID:   cmd.RegionID,
		Status:     cmd.Status,
		Info:       cmd.Info,
		EnqueuedAt: time.Now().UTC(),
	}
	if !s.pool.Enqueue(job) {
		metrics.EditsReceived.WithLabelValues(OutcomeDropped.String()).Inc()
		s.reportResult(job, ErrQueueFull)
		return OutcomeDropped, ErrQueueFull
	}

	metrics.EditsReceived.WithLabelValues(OutcomeQueued.String()).Inc()
	return OutcomeQueued, nil
}

// validateEdit checks field presence, then that the region is one we know.
func (s *Service) validateEdit(cmd bridge.EditCommand) *ValidationError {
	if err := s.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field(), Reason: "is " + verrs[0].Tag()}
		}
		return &ValidationError{Field: "edit", Reason: err.Error()}
	}
	if _, ok := s.regions.Get(cmd.RegionID); !ok {
		return &ValidationError{Field: "RegionID", Reason: "is not a known region"}
	}
	return nil
}

// applyUpdate is the pool's JobHandler.
func (s *Service) applyUpdate(ctx context.Context, job pool.UpdateJob) error {
	u := docstore.RegionUpdate{
		Status: region.NormalizeStatus(job.Status),
		Info:   job.Info,
	}

	if s.cfg.DryRun {
		s.log.Info().Str("region", job.RegionID).Str("status", u.Status).
			Msg("[DRY-RUN] would update region")
		return nil
	}

	uctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	if err := s.docs.UpdateRegion(uctx, job.RegionID, u); err != nil {
		var nf *docstore.ErrNotFound
		if errors.As(err, &nf) {
			return pool.Permanent(err)
		}
		return err
	}

	s.log.Info().Str("region", job.RegionID).Str("status", u.Status).Str("user", job.UserID).
		Msg("region updated")
	return nil
}

// reportResult is the pool's ResultFunc: it tells the renderer and the audit log.
func (s *Service) reportResult(job pool.UpdateJob, err error) {
	entry := storage.AuditEntry{
		ID:       job.ID,
		RegionID: job.RegionID,
		Status:   region.NormalizeStatus(job.Status),
		Info:     job.Info,
		UserID:   job.UserID,
		Outcome:  auditApplied,
	}
	name := job.RegionID
	if r, ok := s.regions.Get(job.RegionID); ok && r.Name != "" {
		name = r.Name
	}

	if err != nil {
		entry.Outcome = auditFailed
		entry.Error = err.Error()
		s.hub.Notice(job.SessionID, "Could not update "+name+": "+err.Error())
	} else {
		s.hub.Notice(job.SessionID, name+" updated.")
	}
	s.audit(entry)
}

func (s *Service) audit(entry storage.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	if err := s.store.AppendAudit(entry); err != nil {
		s.log.Warn().Err(err).Str("region", entry.RegionID).Msg("could not write audit entry")
	}
}
