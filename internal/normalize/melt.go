package normalize

import (
	"synthetl/internal/dataset"
)

// Melt unpivots columns of t into (idColumn, varName, valueName) rows. Rows
// are grouped by column, in the order given, then by row of t. Empty names
// default to "variable" and "value".
func Melt(t dataset.Table, idColumn string, columns []string, varName, valueName string) (dataset.Table, error) {
	if varName == "" {
		varName = "variable"
	}
	if valueName == "" {
		valueName = "value"
	}
	idIdx := t.Index(idColumn)
	if idIdx < 0 {
		return dataset.Table{}, dataset.ColumnError(idColumn, dataset.ErrSchemaMismatch)
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
		if idx[i] < 0 {
			return dataset.Table{}, dataset.ColumnError(c, dataset.ErrSchemaMismatch)
		}
	}

	out := dataset.Table{
		Columns: []string{idColumn, varName, valueName},
		Rows:    make([][]any, 0, len(columns)*len(t.Rows)),
	}
	for i, c := range columns {
		for _, r := range t.Rows {
			out.Rows = append(out.Rows, []any{r[idIdx], c, r[idx[i]]})
		}
	}
	return out, nil
}
