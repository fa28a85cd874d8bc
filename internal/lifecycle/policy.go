package lifecycle

// Policy decides which actor may do what to a record.
type Policy struct {
	registry *Registry
}

func NewPolicy(registry *Registry) *Policy {
	return &Policy{registry: registry}
}

// CanAct is a pure predicate over the actor, the record's current state and
// the entity configuration. Rules are evaluated in order: admins, then the
// owning user, then everyone else.
func (p *Policy) CanAct(actor Actor, record Record, action Action) bool {
	cfg, ok := p.registry.Lookup(record.Entity)
	if !ok {
		return false
	}

	if actor.IsAdmin() {
		switch action {
		case ActionApprove, ActionReject, ActionDisable:
			return actor.Has(cfg.ApprovePermission)
		case ActionHardDelete:
			return cfg.HardDelete && actor.Has(cfg.ManagePermission)
		default:
			return true
		}
	}

	if actor.IsUser() && record.OwnedByUser(actor.ID) {
		switch action {
		case ActionRead:
			return true
		case ActionUpdate, ActionDelete:
			return record.Status == StatusPending
		default:
			return false
		}
	}

	switch action {
	case ActionCreate:
		return actor.IsUser() && cfg.UserSubmissions
	case ActionRead:
		return record.PubliclyVisible()
	default:
		return false
	}
}

// Authorize turns a negative CanAct into the error callers should see. Reads
// of content the actor may not see report NotFound so existence is not leaked.
func (p *Policy) Authorize(actor Actor, record Record, action Action) error {
	if p.CanAct(actor, record, action) {
		return nil
	}
	if action == ActionRead {
		return &NotFoundError{Entity: record.Entity, ID: record.ID}
	}
	return &AccessDeniedError{Entity: record.Entity, ID: record.ID, Action: action}
}
