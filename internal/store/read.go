package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetDeployment returns the deployment with the given id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetDeployment(ctx context.Context, id string) (Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stack, plan_hash, seq, status, error
		FROM deployments
		WHERE id = ?
	`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	return d, err
}

// LatestDeployment returns the most recent deployment of a stack.
// An empty stack matches any stack.
// Returns ErrNotFound if nothing was deployed yet.
func (s *Store) LatestDeployment(ctx context.Context, stack string) (Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, stack, plan_hash, seq, status, error
		FROM deployments
		WHERE ? = '' OR stack = ?
		ORDER BY seq DESC, id COLLATE BINARY DESC
		LIMIT 1
	`, stack, stack)
	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, fmt.Errorf("latest deployment: %w", ErrNotFound)
	}
	return d, err
}

// ListDeployments returns every deployment ordered by seq.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListDeployments(ctx context.Context) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stack, plan_hash, seq, status, error
		FROM deployments
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	deployments := []Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}

// GetResource returns the recorded state of a logical resource.
// The boolean is false when the resource was never provisioned.
func (s *Store) GetResource(ctx context.Context, stack, logicalID string) (Resource, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stack, logical_id, kind, physical_id, spec_hash, attributes, generation, deployment_id
		FROM resources
		WHERE stack = ? AND logical_id = ?
	`, stack, logicalID)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, false, nil
	}
	if err != nil {
		return Resource{}, false, err
	}
	return r, true, nil
}

// ListResources returns the recorded resources of a stack ordered by
// logical id.
func (s *Store) ListResources(ctx context.Context, stack string) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stack, logical_id, kind, physical_id, spec_hash, attributes, generation, deployment_id
		FROM resources
		WHERE stack = ?
		ORDER BY logical_id COLLATE BINARY ASC
	`, stack)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	resources := []Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

// NodeResults returns the node outcomes of a deployment in completion order.
func (s *Store) NodeResults(ctx context.Context, deploymentID string) ([]NodeResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, logical_id, kind, status, physical_id, error, seq
		FROM node_results
		WHERE deployment_id = ?
		ORDER BY seq ASC, logical_id COLLATE BINARY ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query node results: %w", err)
	}
	defer rows.Close()

	results := []NodeResult{}
	for rows.Next() {
		var r NodeResult
		if err := rows.Scan(&r.DeploymentID, &r.LogicalID, &r.Kind, &r.Status, &r.PhysicalID, &r.Error, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan node result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node results: %w", err)
	}
	return results, nil
}

// StageEvents returns the chain transitions of a deployment in seq order.
func (s *Store) StageEvents(ctx context.Context, deploymentID string) ([]StageEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, seq, stage, from_state, to_state, cause
		FROM stage_events
		WHERE deployment_id = ?
		ORDER BY seq ASC, stage COLLATE BINARY ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query stage events: %w", err)
	}
	defer rows.Close()

	events := []StageEvent{}
	for rows.Next() {
		var e StageEvent
		if err := rows.Scan(&e.DeploymentID, &e.Seq, &e.Stage, &e.From, &e.To, &e.Cause); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage events: %w", err)
	}
	return events, nil
}

// Outputs returns the recorded outputs of a deployment ordered by name.
func (s *Store) Outputs(ctx context.Context, deploymentID string) ([]OutputValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, name, value, resolved
		FROM outputs
		WHERE deployment_id = ?
		ORDER BY name COLLATE BINARY ASC
	`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	outputs := []OutputValue{}
	for rows.Next() {
		var o OutputValue
		var resolved int
		if err := rows.Scan(&o.DeploymentID, &o.Name, &o.Value, &resolved); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		o.Resolved = resolved != 0
		outputs = append(outputs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return outputs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (Deployment, error) {
	var d Deployment
	if err := row.Scan(&d.ID, &d.Stack, &d.PlanHash, &d.Seq, &d.Status, &d.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Deployment{}, err
		}
		return Deployment{}, fmt.Errorf("scan deployment: %w", err)
	}
	return d, nil
}

func scanResource(row scanner) (Resource, error) {
	var r Resource
	var attrs string
	if err := row.Scan(&r.Stack, &r.LogicalID, &r.Kind, &r.PhysicalID, &r.SpecHash, &attrs, &r.Generation, &r.DeploymentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Resource{}, err
		}
		return Resource{}, fmt.Errorf("scan resource: %w", err)
	}
	var err error
	if r.Attributes, err = unmarshalAttributes(attrs); err != nil {
		return Resource{}, err
	}
	return r, nil
}
