/*
recalculation.go - Atomic activation and bulk recalculation

PURPOSE:
  Activating a configuration version is retroactive: every approved activity
  the change affects is recomputed and its owner's total moves by the
  difference. Activation and recalculation commit together or not at all.

FLOW (one store transaction):
  1. Read the current rule set
  2. Propose the new version (insert active, deactivate the rest)
  3. Select affected approved activities (plan.go)
  4. Plan the changes (plan.go)
  5. For each change:
       UpdateActivityPoints(id, old, new)   optimistic on old
       AdjustParticipantTotal(owner, delta) increment, never overwrite
       AppendPointEntry(recalculation)      keyed recalc:<config>:<activity>

FAILURE:
  Any failure rolls back every write including the activation. The caller
  gets a *RecalculationError carrying how many activities had been processed,
  which unwraps to ErrRecalculationFailed. Nothing is half-applied.

BATCH LIMIT:
  A plan larger than MaxBatchSize fails with ErrRecalculationTooLarge before
  the transaction commits.
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/points-engine/logger"
)

// ActivateInput describes a configuration version to activate.
type ActivateInput struct {
	Type          ConfigType
	Payload       Payload
	UpdatedBy     string
	Notes         string
	BaseVersion   *int
	EffectiveDate time.Time
}

// ActivationResult summarizes a committed activation or repair.
type ActivationResult struct {
	Configuration        *Configuration
	EventsUpdated        int
	PointsDelta          int
	ParticipantsAffected int
	Changes              []Change
}

type Coordinator struct {
	store   TxStore
	configs *ConfigurationStore
	calc    *Calculator
	opts    options
}

// Activate proposes in.Payload as the next version of in.Type and recalculates
// every affected approved activity, atomically.
func (c *Coordinator) Activate(ctx context.Context, in ActivateInput) (*ActivationResult, error) {
	start := time.Now()
	log := c.opts.log.With("config_type", in.Type, "updated_by", in.UpdatedBy)

	var result *ActivationResult
	err := c.store.WithTx(ctx, func(s Store) error {
		current, err := loadRuleSet(ctx, s)
		if err != nil {
			return err
		}

		cfg, err := c.configs.propose(ctx, s, ProposeInput{
			Type:          in.Type,
			Payload:       in.Payload,
			UpdatedBy:     in.UpdatedBy,
			Notes:         in.Notes,
			BaseVersion:   in.BaseVersion,
			EffectiveDate: in.EffectiveDate,
		})
		if err != nil {
			return err
		}

		next := current.With(in.Type, cfg.Payload)
		affected, err := selectAffected(ctx, s, in.Type, current, next)
		if err != nil {
			return &RecalculationError{ConfigType: in.Type, Err: err}
		}

		res, err := c.reconcile(ctx, s, in.Type, cfg, affected, current, next, in.UpdatedBy, RecalculationKey)
		if err != nil {
			return err
		}
		res.Configuration = cfg
		result = res
		return nil
	})
	if err != nil {
		c.recordFailure(log, in.Type, err)
		return nil, err
	}

	elapsed := time.Since(start)
	c.opts.metrics.ConfigurationActivated(string(in.Type), result.Configuration.Version)
	c.opts.metrics.RecalculationCompleted(string(in.Type), result.EventsUpdated, result.PointsDelta, elapsed)
	log.Info("configuration activated",
		"version", result.Configuration.Version,
		"events_updated", result.EventsUpdated,
		"points_delta", result.PointsDelta,
		"participants_affected", result.ParticipantsAffected,
		"elapsed", elapsed)
	return result, nil
}

// Recalculate reconciles every approved activity with the active rule set
// without proposing a new version. Entries are attributed to the active
// configuration of type t.
func (c *Coordinator) Recalculate(ctx context.Context, t ConfigType, actor string) (*ActivationResult, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "configType", Message: "unknown configuration type " + string(t)}
	}
	start := time.Now()
	log := c.opts.log.With("config_type", t, "actor", actor)

	var result *ActivationResult
	err := c.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.ActiveConfiguration(ctx, t)
		if err != nil {
			return fmt.Errorf("read active %s: %w", t, err)
		}
		if cfg == nil {
			return ErrConfigurationNotFound
		}
		rules, err := loadRuleSet(ctx, s)
		if err != nil {
			return err
		}
		approved, err := s.ListActivities(ctx, ActivityFilter{Status: StatusApproved})
		if err != nil {
			return &RecalculationError{ConfigType: t, Err: err}
		}

		// Repairs may run repeatedly against the same version.
		noKey := func(string, string) string { return "" }
		res, err := c.reconcile(ctx, s, t, cfg, approved, rules, rules, actor, noKey)
		if err != nil {
			return err
		}
		res.Configuration = cfg
		result = res
		return nil
	})
	if err != nil {
		c.recordFailure(log, t, err)
		return nil, err
	}

	c.opts.metrics.RecalculationCompleted(string(t), result.EventsUpdated, result.PointsDelta, time.Since(start))
	log.Info("recalculation completed",
		"version", result.Configuration.Version,
		"events_updated", result.EventsUpdated,
		"points_delta", result.PointsDelta)
	return result, nil
}

// reconcile plans and applies changes through s. It must run inside WithTx.
func (c *Coordinator) reconcile(
	ctx context.Context,
	s Store,
	t ConfigType,
	cfg *Configuration,
	activities []Activity,
	current, next RuleSet,
	actor string,
	key func(configurationID, activityID string) string,
) (*ActivationResult, error) {
	p := c.calc.planChanges(activities, current, next)

	if c.opts.maxBatchSize > 0 && len(p.Changes) > c.opts.maxBatchSize {
		return nil, &BatchTooLargeError{Size: len(p.Changes), Limit: c.opts.maxBatchSize}
	}

	reason := fmt.Sprintf("%s v%d", t, cfg.Version)
	for i, ch := range p.Changes {
		if err := ctx.Err(); err != nil {
			return nil, &RecalculationError{ConfigType: t, Processed: i, Total: len(p.Changes), Err: err}
		}
		if err := s.UpdateActivityPoints(ctx, ch.ActivityID, ch.OldPoints, ch.NewPoints); err != nil {
			return nil, &RecalculationError{ConfigType: t, Processed: i, Total: len(p.Changes), Err: err}
		}
		err := applyDelta(ctx, s, c.opts, PointEntry{
			ParticipantID:   ch.ParticipantID,
			ActivityID:      ch.ActivityID,
			Delta:           ch.Delta,
			Type:            EntryRecalculation,
			ConfigurationID: cfg.ID,
			Reason:          reason,
			IdempotencyKey:  key(cfg.ID, ch.ActivityID),
			CreatedBy:       actor,
		})
		if err != nil {
			return nil, &RecalculationError{ConfigType: t, Processed: i, Total: len(p.Changes), Err: err}
		}
	}

	deltas := p.ParticipantDeltas()
	return &ActivationResult{
		EventsUpdated:        len(p.Changes),
		PointsDelta:          p.TotalDelta(),
		ParticipantsAffected: len(deltas),
		Changes:              p.Changes,
	}, nil
}

func (c *Coordinator) recordFailure(log logger.Logger, t ConfigType, err error) {
	var recalcErr *RecalculationError
	switch {
	case errors.As(err, &recalcErr):
		c.opts.metrics.RecalculationFailed(string(t), "write")
		log.Error("recalculation rolled back",
			"processed", recalcErr.Processed,
			"total", recalcErr.Total,
			"error", recalcErr.Err)
	case errors.Is(err, ErrRecalculationTooLarge):
		c.opts.metrics.RecalculationFailed(string(t), "too_large")
		log.Warn("recalculation rejected", "error", err)
	case errors.Is(err, ErrConfigConflict):
		c.opts.metrics.RecalculationFailed(string(t), "conflict")
		log.Warn("activation conflict", "error", err)
	default:
		c.opts.metrics.RecalculationFailed(string(t), "other")
		log.Warn("activation failed", "error", err)
	}
}
