package engine

import "gacpline/internal/domain"

// Preconditions an edge can demand, evaluated after role and state checks.
const (
	condPhase1Paid         = "phase1_paid"
	condPhase2Paid         = "phase2_paid"
	condInspectionRecorded = "inspection_recorded"
	condQANotRequired      = "qa_not_required"
	condQARequired         = "qa_required"
	condQARecorded         = "qa_recorded"
	condQAApproved         = "qa_approved"
)

type edge struct {
	roles []string
	cond  string
}

func (e edge) allows(role string) bool {
	for _, r := range e.roles {
		if r == role {
			return true
		}
	}
	// admin may drive any edge the system itself is not the sole owner of
	if role == domain.RoleAdmin {
		for _, r := range e.roles {
			if r != domain.RoleSystem {
				return true
			}
		}
	}
	return false
}

// transitions is the authoritative state graph: allowed-role sets and
// preconditions keyed by (from, to). Anything not listed here is an invalid
// edge, full stop.
var transitions = map[string]map[string]edge{
	domain.StateSubmitted: {
		domain.StateDocumentReview: {roles: []string{domain.RoleDocumentChecker}},
	},
	domain.StateDocumentReview: {
		domain.StatePaymentPending1: {roles: []string{domain.RoleDocumentChecker}},
		domain.StateRejected:        {roles: []string{domain.RoleDocumentChecker, domain.RoleApprover}},
	},
	domain.StatePaymentPending1: {
		domain.StateFieldReviewScheduled: {roles: []string{domain.RoleDocumentChecker}, cond: condPhase1Paid},
		domain.StateExpired:              {roles: []string{domain.RoleSystem}},
	},
	domain.StateFieldReviewScheduled: {
		domain.StatePaymentPending2: {roles: []string{domain.RoleDocumentChecker, domain.RoleInspector}},
	},
	domain.StatePaymentPending2: {
		domain.StateInspectionScheduled: {roles: []string{domain.RoleInspector}, cond: condPhase2Paid},
		domain.StateExpired:             {roles: []string{domain.RoleSystem}},
	},
	domain.StateInspectionScheduled: {
		domain.StateInspectionCompleted: {roles: []string{domain.RoleInspector}, cond: condInspectionRecorded},
	},
	domain.StateInspectionCompleted: {
		domain.StateQASamplingPending:     {roles: []string{domain.RoleApprover}, cond: condQARequired},
		domain.StateFinalApprovalPending:  {roles: []string{domain.RoleApprover}, cond: condQANotRequired},
		domain.StateRejected:              {roles: []string{domain.RoleInspector, domain.RoleApprover}},
		domain.StateReInspectionRequested: {roles: []string{domain.RoleFarmer, domain.RoleInspector}},
	},
	domain.StateReInspectionRequested: {
		domain.StateInspectionScheduled: {roles: []string{domain.RoleInspector}},
	},
	domain.StateQASamplingPending: {
		domain.StateQAVerified: {roles: []string{domain.RoleApprover}, cond: condQARecorded},
	},
	domain.StateQAVerified: {
		domain.StateFinalApprovalPending: {roles: []string{domain.RoleApprover}, cond: condQAApproved},
		domain.StateRejected:             {roles: []string{domain.RoleApprover}},
	},
	domain.StateFinalApprovalPending: {
		domain.StateCertified: {roles: []string{domain.RoleApprover}},
	},
	domain.StateCertified: {
		domain.StateExpired: {roles: []string{domain.RoleSystem}},
	},
}

// lookupEdge returns the edge for (from, to), or false for an invalid jump.
func lookupEdge(from, to string) (edge, bool) {
	next, ok := transitions[from]
	if !ok {
		return edge{}, false
	}
	e, ok := next[to]
	return e, ok
}

// ValidEdge reports whether from -> to exists in the static graph.
func ValidEdge(from, to string) bool {
	_, ok := lookupEdge(from, to)
	return ok
}
