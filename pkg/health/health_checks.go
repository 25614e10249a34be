package health

import "fmt"

// Common health check functions. They take closures so this package does
// not depend on the election packages it reports on.

// NoLeader mirrors election.NoLeader for leader snapshots
const NoLeader = -1

// ServingCheck reports unhealthy once the process has begun draining, so
// load balancers stop routing to it before the listener closes
func ServingCheck(shuttingDown func() bool) CheckFunc {
	return func() Check {
		if shuttingDown() {
			return Check{Name: "serving", Status: StatusUnhealthy, Message: "Shutting down"}
		}
		return Check{Name: "serving", Status: StatusHealthy, Message: "Accepting requests"}
	}
}

// QuorumCheck reports how many instances are alive. No alive instance is
// fatal; losing the majority is degraded since an election still completes.
func QuorumCheck(getAlive func() (alive, total int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "quorum",
			Details: make(map[string]any),
		}

		alive, total := getAlive()
		check.Details["alive_instances"] = alive
		check.Details["total_instances"] = total

		switch {
		case total == 0 || alive == 0:
			check.Status = StatusUnhealthy
			check.Message = "No alive instance"
		case alive < total/2+1:
			check.Status = StatusDegraded
			check.Message = "Majority of instances down"
		case alive < total:
			check.Status = StatusDegraded
			check.Message = "Some instances down"
		default:
			check.Status = StatusHealthy
			check.Message = "All instances alive"
		}

		return check
	}
}

// LeaderAgreementCheck reports whether every alive instance follows the same
// leader, and whether that leader is the one expected (the highest alive id)
func LeaderAgreementCheck(getLeaders func() map[int]int, expected func() int) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "leader_agreement",
			Details: make(map[string]any),
		}

		leaders := getLeaders()
		want := expected()

		votes := make(map[int]int)
		for _, leader := range leaders {
			votes[leader]++
		}
		check.Details["leaders"] = leaders
		check.Details["expected_leader"] = want

		switch {
		case len(leaders) == 0:
			check.Status = StatusUnhealthy
			check.Message = "No alive instance"
		case len(votes) > 1:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Instances disagree on leader (%d views)", len(votes))
		case votes[NoLeader] > 0:
			check.Status = StatusDegraded
			check.Message = "No leader elected"
		case votes[want] != len(leaders):
			check.Status = StatusDegraded
			check.Message = "Leader is not the highest alive instance"
		default:
			check.Status = StatusHealthy
			check.Message = fmt.Sprintf("Leader %d agreed", want)
		}

		return check
	}
}

// MailboxBacklogCheck flags instances whose mailbox grew past warnDepth
func MailboxBacklogCheck(getDepths func() map[int]int, warnDepth int) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "mailbox_backlog",
			Details: make(map[string]any),
		}

		var backlogged []int
		maxDepth := 0
		for id, depth := range getDepths() {
			if depth > maxDepth {
				maxDepth = depth
			}
			if warnDepth > 0 && depth > warnDepth {
				backlogged = append(backlogged, id)
			}
		}
		check.Details["max_depth"] = maxDepth
		check.Details["warn_depth"] = warnDepth

		if len(backlogged) > 0 {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d instance(s) backlogged", len(backlogged))
			check.Details["backlogged"] = backlogged
		} else {
			check.Status = StatusHealthy
			check.Message = "Mailboxes draining"
		}

		return check
	}
}
