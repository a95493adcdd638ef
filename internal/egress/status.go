// Package egress drives room-composite restream jobs on the media provider
// and normalizes their lifecycle status.
package egress

// Status is the normalized lifecycle state of an egress job.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusEnding   Status = "ending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// FromUpstream maps the provider's raw status strings, including the
// numeric enum form some SDKs serialize, onto the normalized set. Unknown
// values are preserved verbatim inside a marker so operators can see what
// the provider actually sent.
func FromUpstream(raw string) Status {
	switch raw {
	case "EGRESS_STARTING", "starting", "1":
		return StatusStarting
	case "EGRESS_ACTIVE", "active", "2":
		return StatusActive
	case "EGRESS_ENDING", "ending", "3":
		return StatusEnding
	case "EGRESS_COMPLETE", "complete", "4":
		return StatusComplete
	case "EGRESS_FAILED", "failed", "5":
		return StatusFailed
	case "EGRESS_ABORTED", "aborted", "6":
		return StatusFailed
	case "EGRESS_LIMIT_REACHED", "limit_reached", "7":
		return StatusFailed
	case "EGRESS_STARTING_SOON", "pending", "0", "":
		return StatusPending
	default:
		return Status("unknown(" + raw + ")")
	}
}

// Terminal reports whether the job has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}
