package driver

import (
	"sort"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/config"
)

// LoadCases builds the cases of a study: inline cases, then the cases read
// from the CSV file, then the cases the script generated. Inline and
// generated inputs are ordered by name.
func LoadCases(study *config.Study) ([]*cases.Case, error) {
	var out []*cases.Case
	for _, cc := range study.Cases.Inline {
		out = append(out, caseFromConfig(cc))
	}

	if study.Cases.File != "" {
		opts := []cases.CSVOption{cases.WithDelimiter(study.Cases.DelimiterRune())}
		if headers := study.Cases.HeaderMap(); headers != nil {
			opts = append(opts, cases.WithHeaders(headers))
		}
		it, err := cases.OpenCSVIterator(study.Cases.File, opts...)
		if err != nil {
			return nil, err
		}
		fromFile, err := cases.Collect(it)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}

	for _, cc := range study.Cases.Generated {
		out = append(out, caseFromConfig(cc))
	}
	return out, nil
}

func caseFromConfig(cc config.CaseConfig) *cases.Case {
	names := make([]string, 0, len(cc.Inputs))
	for name := range cc.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	inputs := make([]cases.Item, len(names))
	for i, name := range names {
		inputs[i] = cases.Item{Name: name, Value: cc.Inputs[name]}
	}
	return cases.NewCase(cc.Label, inputs, nil)
}
