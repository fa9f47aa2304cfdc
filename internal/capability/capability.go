// Package capability derives an actor's authority over a task from
// the task's assignment data and the actor's identity. It replaces
// scattered permission flags with one closed enumeration consumed
// uniformly by the state machine.
package capability

import "github.com/fieldops/fieldtrack/internal/models"

type Capability int

const (
	None Capability = iota
	TeamMember
	TeamLeader
	Assignee
	Admin
)

func (c Capability) String() string {
	switch c {
	case Admin:
		return "admin"
	case Assignee:
		return "assignee"
	case TeamLeader:
		return "team_leader"
	case TeamMember:
		return "team_member"
	default:
		return "none"
	}
}

// Resolve returns the actor's capability over the task. Admin comes
// from the identity token and dominates; otherwise the task's
// assignment records decide.
func Resolve(actor models.Actor, task *models.Task) Capability {
	if actor.Admin {
		return Admin
	}
	switch task.AssignmentType {
	case models.AssignIndividual:
		for _, id := range task.Assignees {
			if id == actor.ID {
				return Assignee
			}
		}
	case models.AssignTeam:
		if task.TeamLeader != nil && *task.TeamLeader == actor.ID {
			return TeamLeader
		}
		for _, id := range task.TeamMembers {
			if id == actor.ID {
				return TeamMember
			}
		}
	}
	return None
}

// CanTransition reports whether the capability is allowed to drive
// status transitions. Team members and unrelated actors may read but
// never transition.
func (c Capability) CanTransition() bool {
	switch c {
	case Admin, Assignee, TeamLeader:
		return true
	}
	return false
}

// BypassesChecks reports whether edge validation and geofence
// enforcement are skipped. Only admin override bypasses; the override
// is still recorded in history.
func (c Capability) BypassesChecks() bool {
	return c == Admin
}
