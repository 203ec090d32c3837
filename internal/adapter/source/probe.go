package source

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/tigerroll/taxiemissions/internal/support/exception"
)

// ReadSchema returns the top-level column names of a parquet file and its row count.
func ReadSchema(path string) (columns []string, rows int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			columns, rows = nil, 0
			err = exception.NewBatchErrorf(moduleName, exception.KindIO, "parquet reader panicked on '%s': %v", path, r)
		}
	}()

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, 0, exception.NewBatchErrorf(moduleName, exception.KindIO, "failed to open parquet file '%s'", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return nil, 0, exception.NewBatchErrorf(moduleName, exception.KindIO, "'%s' is not a readable parquet file", path, err)
	}
	defer pr.ReadStop()

	schema := pr.Footer.GetSchema()
	if len(schema) == 0 {
		return nil, 0, exception.NewBatchErrorf(moduleName, exception.KindIO, "parquet file '%s' has no schema", path)
	}

	// schema[0] is the root; its children are the top-level columns. The reader renames
	// footer elements to Go identifiers, so names come from the handler's external names.
	infos := pr.SchemaHandler.Infos
	for i := 1; i < len(schema); {
		name := schema[i].GetName()
		if i < len(infos) {
			name = infos[i].ExName
		}
		columns = append(columns, name)
		i += 1 + countDescendants(schema, i)
	}
	return columns, pr.GetNumRows(), nil
}

// countDescendants returns how many flattened schema elements follow element i as its subtree.
func countDescendants(schema []*parquet.SchemaElement, i int) int {
	n := 0
	children := int(schema[i].GetNumChildren())
	j := i + 1
	for c := 0; c < children && j < len(schema); c++ {
		sub := countDescendants(schema, j)
		n += 1 + sub
		j += 1 + sub
	}
	return n
}

// ProbeSchema fails when the parquet file at path lacks any of the required columns.
// Column names are matched case-insensitively.
func ProbeSchema(path string, required []string) error {
	columns, _, err := ReadSchema(path)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.ToLower(c)] = true
	}
	var missing []string
	for _, r := range required {
		if !present[strings.ToLower(r)] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return exception.NewBatchError(moduleName, exception.KindQuery,
			fmt.Sprintf("'%s' is missing required columns: %s", path, strings.Join(missing, ", ")), nil)
	}
	return nil
}
