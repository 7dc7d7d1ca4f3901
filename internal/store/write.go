package store

import (
	"context"
	"fmt"
)

// BeginDeployment records a new deployment in the running state and
// returns it with its assigned seq. Seq is one more than the highest seq
// recorded so far, so deployments order by start.
//
// Uses ON CONFLICT(id) DO NOTHING: beginning the same id twice keeps the
// first record.
func (s *Store) BeginDeployment(ctx context.Context, id, stack, planHash string) (Deployment, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, stack, plan_hash, seq, status)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM deployments), ?)
		ON CONFLICT(id) DO NOTHING
	`, id, stack, planHash, DeploymentRunning)
	if err != nil {
		return Deployment{}, fmt.Errorf("begin deployment: %w", err)
	}
	return s.GetDeployment(ctx, id)
}

// FinishDeployment sets the final status and error message of a deployment.
func (s *Store) FinishDeployment(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, error = ? WHERE id = ?
	`, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish deployment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish deployment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish deployment %s: %w", id, ErrNotFound)
	}
	return nil
}

// PutResource inserts or replaces the current state of a logical resource.
func (s *Store) PutResource(ctx context.Context, r Resource) error {
	attrs, err := marshalAttributes(r.Attributes)
	if err != nil {
		return fmt.Errorf("put resource: %w", err)
	}
	if r.Generation == 0 {
		r.Generation = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources
		(stack, logical_id, kind, physical_id, spec_hash, attributes, generation, deployment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stack, logical_id) DO UPDATE SET
			kind = excluded.kind,
			physical_id = excluded.physical_id,
			spec_hash = excluded.spec_hash,
			attributes = excluded.attributes,
			generation = excluded.generation,
			deployment_id = excluded.deployment_id
	`,
		r.Stack,
		r.LogicalID,
		r.Kind,
		r.PhysicalID,
		r.SpecHash,
		attrs,
		r.Generation,
		r.DeploymentID,
	)
	if err != nil {
		return fmt.Errorf("put resource: %w", err)
	}
	return nil
}

// RecordNodeResult stores the outcome of a plan node.
// Uses ON CONFLICT DO NOTHING: the first recorded outcome wins.
func (s *Store) RecordNodeResult(ctx context.Context, r NodeResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_results
		(deployment_id, logical_id, kind, status, physical_id, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		r.DeploymentID,
		r.LogicalID,
		r.Kind,
		r.Status,
		r.PhysicalID,
		r.Error,
		r.Seq,
	)
	if err != nil {
		return fmt.Errorf("record node result: %w", err)
	}
	return nil
}

// RecordStageEvent appends a chain transition.
// Uses ON CONFLICT DO NOTHING for idempotency on (deployment_id, seq).
func (s *Store) RecordStageEvent(ctx context.Context, e StageEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_events
		(deployment_id, seq, stage, from_state, to_state, cause)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.DeploymentID,
		e.Seq,
		e.Stage,
		e.From,
		e.To,
		e.Cause,
	)
	if err != nil {
		return fmt.Errorf("record stage event: %w", err)
	}
	return nil
}

// WriteOutputs records the outputs of a deployment in one transaction.
func (s *Store) WriteOutputs(ctx context.Context, outputs []OutputValue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	defer tx.Rollback()

	for _, o := range outputs {
		resolved := 0
		if o.Resolved {
			resolved = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outputs (deployment_id, name, value, resolved)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, o.DeploymentID, o.Name, o.Value, resolved); err != nil {
			return fmt.Errorf("write output %q: %w", o.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	return nil
}
