package rules

import "github.com/umredir/umredir/internal/mapping"

// Compile turns the mapping list into one redirect rule per mapping. IDs are
// positional and start at 1. Mappings are not validated or deduplicated.
func Compile(mappings []mapping.Mapping) []Rule {
	out := make([]Rule, 0, len(mappings))
	for i, m := range mappings {
		out = append(out, compileRule(i+1, m))
	}
	return out
}

func compileRule(id int, m mapping.Mapping) Rule {
	return Rule{
		ID:       id,
		Priority: DefaultPriority,
		Action: Action{
			Type:     ActionRedirect,
			Redirect: &Redirect{RegexSubstitution: Substitution(m.DestinationHost)},
		},
		Condition: Condition{
			RegexFilter:   Pattern(m.MatchHost),
			ResourceTypes: append([]ResourceType(nil), AllResourceTypes...),
		},
	}
}
