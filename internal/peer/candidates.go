package peer

import "github.com/pion/webrtc/v4"

type pendingCandidate struct {
	negotiation string
	init        webrtc.ICECandidateInit
}

// candidateQueue holds remote candidates that arrive before the remote
// description they belong to.
type candidateQueue struct {
	pending []pendingCandidate
}

func (q *candidateQueue) push(negotiation string, c webrtc.ICECandidateInit) {
	q.pending = append(q.pending, pendingCandidate{negotiation: negotiation, init: c})
}

func (q *candidateQueue) len() int {
	return len(q.pending)
}

// flush hands the queued candidates of negotiation to add in arrival order
// and empties the queue. Candidates of other negotiations are discarded; an
// untagged candidate matches any negotiation. It returns how many
// candidates were applied and how many add rejected.
func (q *candidateQueue) flush(negotiation string, add func(webrtc.ICECandidateInit) error) (applied, failed int) {
	for _, c := range q.pending {
		if c.negotiation != "" && negotiation != "" && c.negotiation != negotiation {
			continue
		}
		if err := add(c.init); err != nil {
			failed++
			continue
		}
		applied++
	}
	q.pending = nil
	return applied, failed
}

func (q *candidateQueue) reset() {
	q.pending = nil
}
