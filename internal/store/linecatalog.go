package store

import (
	"context"
	"fmt"
	"sort"

	"transitalerts/internal/alerts"
)

// LineInfo is one row of the "actual lines" catalog: a route paired with its
// serving agency, the shape the query API exposes for `/api/all_lines` and
// `/api/single_line`.
type LineInfo struct {
	RouteID     string
	AgencyID    string
	AgencyName  string
	LineNumber  string // route_short_name
	RouteDesc   string
}

// LineCatalog is the static "actual lines" lookup built once at startup per
// §5's shared-resource policy: read-only, safe for concurrent reads by
// construction since it is never mutated after BuildLineCatalog returns.
type LineCatalog struct {
	lines []LineInfo
	byID  map[string]LineInfo
}

// BuildLineCatalog loads every route/agency pair from the timetable store
// and sorts it in natural line-number order.
func BuildLineCatalog(ctx context.Context, db *DB) (*LineCatalog, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT routes.route_id, routes.agency_id, agency.agency_name,
		       routes.route_short_name, routes.route_desc
		FROM routes
		INNER JOIN agency ON agency.agency_id = routes.agency_id`)
	if err != nil {
		return nil, fmt.Errorf("build line catalog: %w", err)
	}
	defer rows.Close()

	var lines []LineInfo
	byID := make(map[string]LineInfo)
	for rows.Next() {
		var li LineInfo
		if err := rows.Scan(&li.RouteID, &li.AgencyID, &li.AgencyName, &li.LineNumber, &li.RouteDesc); err != nil {
			return nil, fmt.Errorf("scan line row: %w", err)
		}
		lines = append(lines, li)
		byID[li.RouteID] = li
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(lines, func(i, j int) bool {
		ai, as := alerts.NaturalSortKey(lines[i].LineNumber)
		bi, bs := alerts.NaturalSortKey(lines[j].LineNumber)
		if ai != bi {
			return ai < bi
		}
		return as < bs
	})

	return &LineCatalog{lines: lines, byID: byID}, nil
}

// All returns every line, in natural line-number order. Callers must not
// mutate the returned slice.
func (c *LineCatalog) All() []LineInfo {
	return c.lines
}

// Get looks up one line by route id.
func (c *LineCatalog) Get(routeID string) (LineInfo, bool) {
	li, ok := c.byID[routeID]
	return li, ok
}
