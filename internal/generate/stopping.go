package generate

import "strings"

// StopReason records why a generation call ended.
type StopReason string

const (
	StopMaxTokens StopReason = "max_tokens"
	StopEOS       StopReason = "eos"
	StopSequence  StopReason = "stop_sequence"
	StopCancelled StopReason = "cancelled"
)

// Criterion is one stopping rule, evaluated once per sampled token. The
// rules are OR-composed: the first to fire ends the call. truncateAt is the
// byte offset where the output text must be cut, or -1 to keep it all.
type Criterion interface {
	Check(ids []int, text string) (done bool, truncateAt int, reason StopReason)
}

// maxTokensCriterion fires once the call has produced its token budget.
// It is always installed, so every call terminates.
type maxTokensCriterion struct {
	limit int
}

func (c maxTokensCriterion) Check(ids []int, text string) (bool, int, StopReason) {
	return len(ids) >= c.limit, -1, StopMaxTokens
}

// eosCriterion fires when the last sampled token is a configured
// end-of-sequence id.
type eosCriterion struct {
	eos map[int]struct{}
}

func newEOSCriterion(ids []int) *eosCriterion {
	m := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return &eosCriterion{eos: m}
}

func (c *eosCriterion) Check(ids []int, text string) (bool, int, StopReason) {
	if len(ids) == 0 {
		return false, -1, StopEOS
	}
	_, ok := c.eos[ids[len(ids)-1]]
	return ok, -1, StopEOS
}

// stopSequenceCriterion fires when any stop string appears in the decoded
// text, truncating at the earliest match start across all sequences.
type stopSequenceCriterion struct {
	seqs []string
}

func (c *stopSequenceCriterion) Check(ids []int, text string) (bool, int, StopReason) {
	earliest := -1
	for _, seq := range c.seqs {
		if seq == "" {
			continue
		}
		if i := strings.Index(text, seq); i >= 0 && (earliest < 0 || i < earliest) {
			earliest = i
		}
	}
	return earliest >= 0, earliest, StopSequence
}

// criteria is the OR composition. EOS and stop sequences are added when
// configured and evaluated before the max-tokens safety net, so a terminal
// token or stop match landing exactly on the budget still truncates the
// output instead of leaking into it.
type criteria []Criterion

func newCriteria(r Resolved, eosIDs []int) criteria {
	var cs criteria
	if len(eosIDs) > 0 {
		cs = append(cs, newEOSCriterion(eosIDs))
	}
	if len(r.Stop) > 0 {
		cs = append(cs, &stopSequenceCriterion{seqs: r.Stop})
	}
	return append(cs, maxTokensCriterion{limit: r.MaxNewTokens})
}

func (cs criteria) Check(ids []int, text string) (bool, int, StopReason) {
	for _, c := range cs {
		if done, truncateAt, reason := c.Check(ids, text); done {
			return true, truncateAt, reason
		}
	}
	return false, -1, ""
}

// maxStopHold returns the longest prefix of any stop sequence found as a
// suffix of text, in bytes. Streamed output holds back that many bytes so
// a stop match can never be emitted past its start.
func maxStopHold(text string, stop []string) int {
	hold := 0
	for _, seq := range stop {
		if seq == "" {
			continue
		}
		limit := len(seq)
		if limit > len(text) {
			limit = len(text)
		}
		for n := limit; n > hold; n-- {
			if strings.HasSuffix(text, seq[:n]) {
				hold = n
				break
			}
		}
	}
	return hold
}
