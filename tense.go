package svcinstall

// Tense selects the grammatical tense a step description is rendered in.
// Wizards typically describe upcoming steps in TenseFuture, ask for
// confirmation in TensePresent, report progress in TenseActive and summarize
// in TensePast.
type Tense int

const (
	// TensePast describes a step that has been performed
	TensePast Tense = iota
	// TensePresent describes a step as a plain imperative ("Copy ...")
	TensePresent
	// TenseFuture describes a step that will be performed
	TenseFuture
	// TenseActive describes a step that is being performed right now
	TenseActive
)

// String returns the tense name
func (t Tense) String() string {
	switch t {
	case TensePast:
		return "past"
	case TensePresent:
		return "present"
	case TenseFuture:
		return "future"
	case TenseActive:
		return "active"
	default:
		return "unknown"
	}
}

// pick returns the verb form matching the tense
func (t Tense) pick(past, present, future, active string) string {
	switch t {
	case TensePast:
		return past
	case TensePresent:
		return present
	case TenseFuture:
		return future
	case TenseActive:
		return active
	default:
		return present
	}
}
