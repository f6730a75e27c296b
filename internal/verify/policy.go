package verify

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// RiskTrigger maps changed-file glob patterns to a tier they force.
type RiskTrigger struct {
	Name     string
	Patterns []string
	Tier     Tier
}

// Policy is the verification policy frozen onto a run (spec.md §4.6).
type Policy struct {
	Tier0        []string
	Tier1        []string
	Tier2        []string
	RiskTriggers []RiskTrigger
}

// Context is the decision input for one tier-selection call.
type Context struct {
	ChangedFiles []string
	RiskLevel    string // low|medium|high
	IsMilestoneEnd bool
	IsRunEnd     bool
}

// Selection is one chosen tier plus why it was chosen.
type Selection struct {
	Tier   Tier
	Reason string
}

// SelectTiers runs the spec's fixed rule table in order (spec.md
// §4.6), returning every tier that applies with its first matching
// reason. Tier2 risk triggers are demoted to tier1 unless the call is
// a run boundary (IsRunEnd), since a mid-run tier2 run would be
// disproportionate to a single milestone's risk.
func SelectTiers(p Policy, ctx Context) ([]Selection, error) {
	selections := []Selection{{Tier: Tier0, Reason: "tier0_always"}}
	picked := map[Tier]bool{Tier0: true}

	pick := func(tier Tier, reason string) {
		if picked[tier] {
			return
		}
		picked[tier] = true
		selections = append(selections, Selection{Tier: tier, Reason: reason})
	}

	for _, trig := range p.RiskTriggers {
		matched, err := matchesAny(trig.Patterns, ctx.ChangedFiles)
		if err != nil {
			return nil, fmt.Errorf("risk trigger %q: %w", trig.Name, err)
		}
		if !matched {
			continue
		}
		tier := trig.Tier
		if tier == Tier2 && !ctx.IsRunEnd {
			tier = Tier1
		}
		pick(tier, "risk_trigger:"+trig.Name)
	}

	if ctx.IsMilestoneEnd {
		pick(Tier1, "milestone_end")
	}
	if ctx.RiskLevel == "high" {
		pick(Tier1, "risk_level_high")
	}
	if ctx.IsRunEnd {
		pick(Tier2, "run_end")
	}

	return selections, nil
}

// CommandsForTier resolves a Policy + Selection list into the ordered
// command lists to execute.
func CommandsForTier(p Policy, tier Tier) []string {
	switch tier {
	case Tier0:
		return p.Tier0
	case Tier1:
		return p.Tier1
	case Tier2:
		return p.Tier2
	default:
		return nil
	}
}

func matchesAny(patterns, files []string) (bool, error) {
	for _, f := range files {
		for _, pat := range patterns {
			ok, err := doublestar.Match(pat, f)
			if err != nil {
				return false, fmt.Errorf("pattern %q: %w", pat, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
