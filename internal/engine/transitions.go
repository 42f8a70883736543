package engine

import (
	"fmt"

	"taskmarket/internal/domain"
)

// Action names an interaction between a profile and a task.
type Action string

const (
	ActShortlist            Action = "shortlist"
	ActApply                Action = "apply"
	ActDiscard              Action = "discard"
	ActDiscardOverwrite     Action = "discard-overwrite"
	ActRejectApplication    Action = "reject-application"
	ActShortlistApplication Action = "shortlist-application"
	ActAccept               Action = "accept"
)

type transition struct {
	from []domain.ProfileTaskStatus
	to   domain.ProfileTaskStatus
}

// profileTaskTransitions is the full ProfileTask state machine.
//
// ActDiscardOverwrite drops any progress on an existing row, including an
// application. It is kept as its own entry so it can be narrowed or removed
// without touching ActDiscard.
var profileTaskTransitions = map[Action]transition{
	ActShortlist: {
		from: []domain.ProfileTaskStatus{domain.NoInteraction},
		to:   domain.Shortlisted,
	},
	ActApply: {
		from: []domain.ProfileTaskStatus{domain.NoInteraction, domain.Shortlisted},
		to:   domain.Applied,
	},
	ActDiscard: {
		from: []domain.ProfileTaskStatus{domain.NoInteraction},
		to:   domain.Discarded,
	},
	ActDiscardOverwrite: {
		from: []domain.ProfileTaskStatus{domain.Shortlisted, domain.Applied, domain.ApplicationShortlisted, domain.Assigned, domain.Rejected},
		to:   domain.Discarded,
	},
	ActRejectApplication: {
		from: []domain.ProfileTaskStatus{domain.Applied, domain.ApplicationShortlisted},
		to:   domain.Rejected,
	},
	ActShortlistApplication: {
		from: []domain.ProfileTaskStatus{domain.Applied},
		to:   domain.ApplicationShortlisted,
	},
	ActAccept: {
		from: []domain.ProfileTaskStatus{domain.Applied, domain.ApplicationShortlisted},
		to:   domain.Assigned,
	},
}

// nextProfileTaskStatus returns the status act moves from to, or an error
// when the table has no such edge.
func nextProfileTaskStatus(act Action, from domain.ProfileTaskStatus) (domain.ProfileTaskStatus, error) {
	tr, ok := profileTaskTransitions[act]
	if !ok {
		return "", fmt.Errorf("unknown action %s", act)
	}
	for _, s := range tr.from {
		if s == from {
			return tr.to, nil
		}
	}
	return "", fmt.Errorf("invalid transition %s from %s", act, from)
}

func canTransition(act Action, from domain.ProfileTaskStatus) bool {
	_, err := nextProfileTaskStatus(act, from)
	return err == nil
}

func ensureTaskTransition(oldStatus, newStatus domain.TaskStatus) error {
	switch oldStatus {
	case domain.TaskOpen:
		if newStatus == domain.TaskInProgress {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskComplete {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// interactionOf folds the rows found for a (profile, task) pair into the
// tagged variant. More than one row is an integrity violation.
func interactionOf(op string, rows []domain.ProfileTask) (domain.Interaction, error) {
	switch len(rows) {
	case 0:
		return domain.Interaction{State: domain.NoInteraction}, nil
	case 1:
		pt := rows[0]
		return domain.Interaction{State: pt.Status, Record: &pt}, nil
	}
	return domain.Interaction{}, opErr(op, ErrIntegrity, "%d profile tasks for profile %s and task %s", len(rows), rows[0].ProfileID, rows[0].TaskID)
}
