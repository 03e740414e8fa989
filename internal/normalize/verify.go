package normalize

import (
	"fmt"

	"synthetl/internal/dataset"
)

// Verify re-checks a Result after the fact: keys are unique within every
// dimension, and every key referenced by the fact resolves to exactly one
// dimension entry. Failures unwrap to dataset.ErrReferentialIntegrity.
func Verify(res *Result) error {
	if res == nil {
		return fmt.Errorf("normalize: nil result")
	}

	for _, d := range res.Dimensions {
		keys := make(map[string]int, len(d.Entries))
		for _, e := range d.Entries {
			keys[e.Key]++
			if keys[e.Key] > 1 {
				return &dataset.Error{Table: d.Name, Column: d.KeyColumn,
					Err: fmt.Errorf("%w: key %s issued twice", dataset.ErrReferentialIntegrity, e.Key)}
			}
		}

		j := res.Fact.Index(d.KeyColumn)
		if j < 0 {
			return &dataset.Error{Table: d.Name, Column: d.KeyColumn,
				Err: fmt.Errorf("%w: fact has no key column", dataset.ErrReferentialIntegrity)}
		}
		for i, r := range res.Fact.Rows {
			k, _ := r[j].(string)
			if keys[k] != 1 {
				return &dataset.Error{Table: d.Name, Column: d.KeyColumn,
					Err: fmt.Errorf("%w: fact row %d references unknown key %q", dataset.ErrReferentialIntegrity, i, k)}
			}
		}
	}
	return nil
}
