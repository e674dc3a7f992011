package postgres

import (
	"fmt"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// listQuery appends the ListOpts time range, ordering and paging to base.
// base must already contain a WHERE clause; args holds its parameters.
func listQuery(base string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	q := base
	next := len(args) + 1
	if opts.Since != nil {
		q += fmt.Sprintf(" AND %s >= $%d", timeCol, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		q += fmt.Sprintf(" AND %s <= $%d", timeCol, next)
		args = append(args, *opts.Until)
		next++
	}
	q += fmt.Sprintf(" ORDER BY %s DESC", timeCol)
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return q, args
}
