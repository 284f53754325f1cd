package validation

import (
	"strings"
	"time"

	"github.com/georgepadayatti/sigvalidate/sign/ades"
)

// Outcome is the result of evaluating one check against its constraint.
type Outcome struct {
	Passed bool
	Params []ades.Param
	// Deadline is set on failures that proof of existence before that
	// time would clear.
	Deadline time.Time
	// Sub overrides the sub-indication of the check when set.
	Sub ades.SubIndication
}

// Pass returns a passing outcome.
func Pass(params ...ades.Param) Outcome { return Outcome{Passed: true, Params: params} }

// Fail returns a failing outcome.
func Fail(params ...ades.Param) Outcome { return Outcome{Params: params} }

// Until attaches a proof of existence deadline to a failing outcome.
func (o Outcome) Until(deadline time.Time) Outcome {
	o.Deadline = deadline
	o.Params = append(o.Params, ades.P("poe-deadline", deadline.UTC().Format(time.RFC3339)))
	return o
}

// As replaces the sub-indication reported for a failing outcome.
func (o Outcome) As(sub ades.SubIndication) Outcome {
	o.Sub = sub
	return o
}

// Check is one named, independently skippable predicate.
type Check struct {
	Name          string
	Indication    ades.Indication
	SubIndication ades.SubIndication
	Evaluate      func(c *Constraint) Outcome
}

// Chain is an ordered list of checks evaluated by early return.
type Chain []Check

// StageResult is the verdict of one chain.
type StageResult struct {
	Conclusion *ades.Conclusion
	// Failed names the mandatory constraint that ended the chain.
	Failed   string
	Deadline time.Time
}

// Run evaluates the chain against policy. Checks without a constraint pass
// silently. The first failing mandatory check ends the chain with its own
// indication; non-mandatory failures leave a warning and the chain goes
// on.
func (ch Chain) Run(policy *Policy) StageResult {
	var explanations []ades.Explanation
	for _, check := range ch {
		c, ok := policy.Lookup(check.Name)
		if !ok {
			continue
		}
		out := check.Evaluate(c)
		if out.Passed {
			explanations = append(explanations, ades.Explanation{
				Constraint: check.Name, Status: ades.StatusPassed, Params: out.Params,
			})
			continue
		}
		if !c.Mandatory {
			explanations = append(explanations, ades.Explanation{
				Constraint: check.Name, Status: ades.StatusWarning, Params: out.Params,
			})
			continue
		}
		explanations = append(explanations, ades.Explanation{
			Constraint: check.Name, Status: ades.StatusFailed, Params: out.Params,
		})
		sub := check.SubIndication
		if out.Sub != "" {
			sub = out.Sub
		}
		conclusion, err := ades.NewConclusion(check.Indication, sub, explanations...)
		if err != nil {
			conclusion = ades.Indeterminate(ades.SubPolicyProcessingError, append(explanations, ades.Explanation{
				Constraint: check.Name, Status: ades.StatusFailed, Params: []ades.Param{ades.P("error", err)},
			})...)
		}
		return StageResult{Conclusion: conclusion, Failed: check.Name, Deadline: out.Deadline}
	}
	return StageResult{Conclusion: ades.Valid(explanations...)}
}

// matchValues compares actual values with the expected shape of c. An
// empty Expected list only asks for presence.
func matchValues(actual []string, c *Constraint) bool {
	var present []string
	for _, a := range actual {
		if strings.TrimSpace(a) != "" {
			present = append(present, a)
		}
	}
	if len(c.Expected) == 0 {
		return len(present) > 0
	}
	has := func(want string) bool {
		for _, a := range present {
			if want == "*" || strings.EqualFold(a, want) {
				return true
			}
		}
		return false
	}
	if c.MatchAll {
		for _, want := range c.Expected {
			if !has(want) {
				return false
			}
		}
		return true
	}
	for _, want := range c.Expected {
		if has(want) {
			return true
		}
	}
	return false
}

func joinValues(values []string) string {
	if len(values) == 0 {
		return "<none>"
	}
	return strings.Join(values, ",")
}

func valueParams(actual []string, c *Constraint) []ades.Param {
	params := []ades.Param{ades.P("actual", joinValues(actual))}
	if len(c.Expected) > 0 {
		params = append(params, ades.P("expected", joinValues(c.Expected)))
	}
	return params
}
