// ABOUTME: Installation registry - validates and records agent installs per business
// ABOUTME: Install record, permission grants and audit entry commit in one transaction

package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shreyanshjain7174/agent-runtime/internal/registry"
	"github.com/shreyanshjain7174/agent-runtime/internal/store"
)

// InstallRequest carries everything needed to install an agent for a business.
type InstallRequest struct {
	BusinessID   string
	AgentID      string
	Actor        string
	InstanceName string
	Permissions  []string
	Config       json.RawMessage
}

// InstallAgent validates the request against the agent's published
// definition, writes the installation, then runs post-commit initialization.
// A failed initialization leaves the committed record in error status
// instead of rolling it back; partial, debuggable state beats a silent
// retry loop.
func (s *Supervisor) InstallAgent(ctx context.Context, req InstallRequest) (*store.Installation, error) {
	def, err := s.defs.Get(req.AgentID)
	if err != nil {
		if errors.Is(err, registry.ErrDefinitionNotFound) {
			return nil, &NotFoundError{Kind: "agent definition", ID: req.AgentID}
		}
		return nil, err
	}
	if !def.Active {
		return nil, &InvalidStateError{Op: "install agent", Status: "inactive definition"}
	}

	if missing := missingPermissions(def.Permissions, req.Permissions); len(missing) > 0 {
		s.auditDenied(ctx, req.BusinessID, req.Actor, store.AuditInstallAgent, "installation", req.AgentID,
			map[string]any{"missing_permissions": missing})
		return nil, &PermissionError{AgentID: req.AgentID, Missing: missing}
	}

	now := time.Now().UTC()
	inst := &store.Installation{
		ID:           uuid.New().String(),
		BusinessID:   req.BusinessID,
		AgentID:      req.AgentID,
		InstanceName: req.InstanceName,
		Config:       req.Config,
		Permissions:  req.Permissions,
		Status:       store.InstallationInstalling,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	entry := &store.AuditEntry{
		BusinessID: req.BusinessID,
		Actor:      req.Actor,
		Action:     store.AuditInstallAgent,
		TargetType: "installation",
		TargetID:   inst.ID,
		Outcome:    store.OutcomeSuccess,
		Detail:     map[string]any{"agent_id": req.AgentID, "version": def.Version},
	}

	if err := s.store.CreateInstallation(ctx, inst, entry); err != nil {
		return nil, err
	}

	// Initialization runs after the transaction has committed. Its failure is
	// a background failure: recorded on the row, not thrown at the caller.
	if s.installHook != nil {
		if hookErr := s.installHook(ctx, inst); hookErr != nil {
			s.logger.Error("install initialization failed",
				"installation_id", inst.ID,
				"agent_id", req.AgentID,
				"error", hookErr,
			)
			if err := s.store.UpdateInstallationStatus(ctx, inst.ID, store.InstallationError, hookErr.Error()); err != nil {
				s.logger.Error("recording install error status failed", "installation_id", inst.ID, "error", err)
			}
			inst.Status = store.InstallationError
			inst.ErrorMessage = hookErr.Error()
			return inst, nil
		}
	}

	if err := s.store.UpdateInstallationStatus(ctx, inst.ID, store.InstallationActive, ""); err != nil {
		return nil, err
	}
	inst.Status = store.InstallationActive

	s.logger.Info("agent installed",
		"installation_id", inst.ID,
		"business_id", req.BusinessID,
		"agent_id", req.AgentID,
	)
	return inst, nil
}

// UninstallAgent stops any active session, marks the installation
// uninstalling, and schedules physical deletion after the grace period so
// in-flight event processing can drain.
func (s *Supervisor) UninstallAgent(ctx context.Context, installationID, actor string) error {
	inst, err := s.store.GetInstallation(ctx, installationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "installation", ID: installationID}
		}
		return err
	}

	// Idempotent if nothing is running
	if err := s.StopAgent(ctx, installationID); err != nil {
		return err
	}

	entry := &store.AuditEntry{
		BusinessID: inst.BusinessID,
		Actor:      actor,
		Action:     store.AuditUninstallAgent,
		TargetType: "installation",
		TargetID:   installationID,
		Outcome:    store.OutcomeSuccess,
		Detail:     map[string]any{"agent_id": inst.AgentID},
	}
	if err := s.store.MarkUninstalling(ctx, installationID, entry); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(s.cfg.UninstallGracePeriod):
		case <-s.baseCtx.Done():
		}
		if err := s.store.DeleteInstallation(context.Background(), installationID); err != nil {
			s.logger.Error("deleting installation failed", "installation_id", installationID, "error", err)
		}
	}()

	s.logger.Info("agent uninstalling",
		"installation_id", installationID,
		"business_id", inst.BusinessID,
		"grace_period", s.cfg.UninstallGracePeriod,
	)
	return nil
}

// missingPermissions returns required permissions absent from granted.
func missingPermissions(required, granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, p := range granted {
		have[p] = true
	}

	var missing []string
	for _, p := range required {
		if !have[p] {
			missing = append(missing, p)
		}
	}
	return missing
}

// auditDenied records a denied privileged action. Audit failures are logged,
// not propagated; the denial itself still reaches the caller.
func (s *Supervisor) auditDenied(ctx context.Context, businessID, actor string, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		BusinessID: businessID,
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    store.OutcomeDenied,
		Detail:     detail,
	}
	if err := s.store.AppendAuditEntry(ctx, entry); err != nil {
		s.logger.Error("appending denied audit entry failed", "action", action, "error", err)
	}
}
