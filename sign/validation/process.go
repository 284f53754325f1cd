package validation

import (
	"fmt"
	"time"

	"github.com/georgepadayatti/sigvalidate/sign/ades"
)

// State is a step of the long-term validation process.
type State int

const (
	StateNotStarted State = iota
	StateBasicChecked
	StateChainChecked
	StateCryptoChecked
	StateLTVChecked
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateBasicChecked:
		return "BASIC_CHECKED"
	case StateChainChecked:
		return "CHAIN_CHECKED"
	case StateCryptoChecked:
		return "CRYPTO_CHECKED"
	case StateLTVChecked:
		return "LTV_CHECKED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transition records one state change and the indication known when it
// happened.
type Transition struct {
	From       State
	To         State
	Indication ades.Indication
}

// Result is the outcome of one process run.
type Result struct {
	Conclusion        *ades.Conclusion
	State             State
	Transitions       []Transition
	BestSignatureTime time.Time
}

// Indication returns the indication carried by the final LTV_CHECKED
// state.
func (r *Result) Indication() ades.Indication { return r.Conclusion.Indication() }

// Process drives one signature through the stages of long-term
// validation. A Process is reusable but not safe for concurrent use; every
// Run starts from NOT_STARTED.
type Process struct {
	state        State
	transitions  []Transition
	explanations []ades.Explanation
	// frozen holds the first INVALID stage verdict.
	frozen *ades.Conclusion
	// pending holds INDETERMINATE stage verdicts that proof of existence
	// may still clear.
	pending []StageResult
}

// NewProcess returns a process in the NOT_STARTED state.
func NewProcess() *Process {
	return &Process{}
}

// State returns the current state.
func (p *Process) State() State { return p.state }

func (p *Process) reset() {
	p.state = StateNotStarted
	p.transitions = nil
	p.explanations = nil
	p.frozen = nil
	p.pending = nil
}

// indication is the verdict as known at this point of the run.
func (p *Process) indication() ades.Indication {
	switch {
	case p.frozen != nil:
		return ades.IndicationInvalid
	case len(p.pending) > 0:
		return ades.IndicationIndeterminate
	default:
		return ades.IndicationValid
	}
}

func (p *Process) advance(to State) {
	if to <= p.state {
		panic(fmt.Sprintf("validation: illegal transition %s -> %s", p.state, to))
	}
	p.transitions = append(p.transitions, Transition{From: p.state, To: to, Indication: p.indication()})
	p.state = to
}

// absorb folds a stage verdict into the running state.
func (p *Process) absorb(r StageResult) {
	p.explanations = append(p.explanations, r.Conclusion.Explanations()...)
	switch r.Conclusion.Indication() {
	case ades.IndicationInvalid:
		p.frozen = r.Conclusion
	case ades.IndicationIndeterminate:
		p.pending = append(p.pending, r)
	}
}

// stage runs ch unless the result is already frozen, then moves to the
// given state.
func (p *Process) stage(to State, ch Chain, policy *Policy) {
	if p.frozen == nil {
		p.absorb(ch.Run(policy))
		p.advance(to)
	}
}

// Run computes the conclusion for ev under policy. It never mutates ev and
// yields the same result for the same inputs.
func (p *Process) Run(policy *Policy, ev *Evidence) *Result {
	p.reset()

	p.stage(StateBasicChecked, basicChecks(ev), policy)
	p.stage(StateChainChecked, chainChecks(ev), policy)
	p.stage(StateCryptoChecked, acceptanceChecks(ev), policy)

	var best time.Time
	if p.frozen == nil {
		p.absorb(freshnessChecks(ev).Run(policy))
	}
	if p.frozen == nil {
		p.absorb(timestampChecks(ev).Run(policy))
	}
	if p.frozen == nil {
		poes := signaturePOEs(ev)
		p.corroborate(policy, ev, poes)
		best = p.bestSignatureTime(ev, poes)
	}

	conclusion := p.conclude()
	p.advance(StateLTVChecked)
	return &Result{
		Conclusion:        conclusion,
		State:             p.state,
		Transitions:       append([]Transition(nil), p.transitions...),
		BestSignatureTime: best,
	}
}

// corroborate clears pending verdicts whose failure lies after a qualified
// proof of existence of the signature. Only sub-indications the policy
// lists are eligible.
func (p *Process) corroborate(policy *Policy, ev *Evidence, poes *POESet) {
	var remaining []StageResult
	for _, r := range p.pending {
		sub := r.Conclusion.SubIndication()
		if r.Deadline.IsZero() || !policy.Corroborates(sub) {
			remaining = append(remaining, r)
			continue
		}
		params := []ades.Param{
			ades.P("constraint", r.Failed),
			ades.P("sub-indication", sub),
			ades.P("poe-deadline", formatTime(r.Deadline)),
		}
		poe, ok := poes.Before(ev.SignatureID, r.Deadline)
		if !ok {
			p.explanations = append(p.explanations, ades.Explanation{
				Constraint: entryPOECorroboration, Status: ades.StatusFailed, Params: params,
			})
			remaining = append(remaining, r)
			continue
		}
		p.explanations = append(p.explanations, ades.Explanation{
			Constraint: entryPOECorroboration,
			Status:     ades.StatusPassed,
			Params: append(params,
				ades.P("poe-time", formatTime(poe.Time)),
				ades.P("poe-source", poe.Source),
				ades.P("poe-type", poe.Type),
			),
		})
	}
	p.pending = remaining
}

// bestSignatureTime is the earliest qualified proof of existence of the
// signature, or the validation time when there is none.
func (p *Process) bestSignatureTime(ev *Evidence, poes *POESet) time.Time {
	best, source := ev.ValidationTime, "validation-time"
	if poe, ok := poes.Earliest(ev.SignatureID); ok && poe.Time.Before(best) {
		best, source = poe.Time, poe.Source
	}
	p.explanations = append(p.explanations, ades.Explanation{
		Constraint: entryBestSignatureTime,
		Status:     ades.StatusInfo,
		Params:     []ades.Param{ades.P("time", formatTime(best)), ades.P("source", source)},
	})
	return best
}

func (p *Process) conclude() *ades.Conclusion {
	switch {
	case p.frozen != nil:
		return ades.Invalid(p.frozen.SubIndication(), p.explanations...)
	case len(p.pending) > 0:
		return ades.Indeterminate(p.pending[0].Conclusion.SubIndication(), p.explanations...)
	default:
		return ades.Valid(p.explanations...)
	}
}
