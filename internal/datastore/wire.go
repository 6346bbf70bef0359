package datastore

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Query parameters of the data API.
const (
	ParamOrder = "order"
	ParamTable = "table"
	eqPrefix   = "eq."
)

// EncodeQuery renders q as data API query parameters:
// col=eq.value for filters and order=col.asc,col.desc.
func EncodeQuery(q Query) url.Values {
	values := EncodeFilter(q.Filter)
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		values.Set(ParamOrder, strings.Join(parts, ","))
	}
	return values
}

// EncodeFilter renders f as col=eq.value parameters.
func EncodeFilter(f Filter) url.Values {
	values := url.Values{}
	for col, v := range f {
		values.Set(col, eqPrefix+formatValue(v))
	}
	return values
}

// ParseQuery is the inverse of EncodeQuery. Parameters named in skip are ignored.
func ParseQuery(values url.Values, skip ...string) (Query, error) {
	filter, err := ParseFilter(values, append(skip, ParamOrder)...)
	if err != nil {
		return Query{}, err
	}
	q := Query{Filter: filter}
	if raw := values.Get(ParamOrder); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			col, dir, _ := strings.Cut(strings.TrimSpace(part), ".")
			if col == "" {
				return Query{}, fmt.Errorf("%w: empty order column", ErrInvalidInput)
			}
			switch dir {
			case "", "asc":
				q.Order = append(q.Order, Order{Column: col})
			case "desc":
				q.Order = append(q.Order, Order{Column: col, Descending: true})
			default:
				return Query{}, fmt.Errorf("%w: order direction %q", ErrInvalidInput, dir)
			}
		}
	}
	return q, nil
}

// ParseFilter reads col=eq.value parameters. Only equality is supported.
func ParseFilter(values url.Values, skip ...string) (Filter, error) {
	ignored := make(map[string]bool, len(skip))
	for _, s := range skip {
		ignored[s] = true
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if !ignored[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var filter Filter
	for _, col := range keys {
		raw := values.Get(col)
		v, ok := strings.CutPrefix(raw, eqPrefix)
		if !ok {
			return nil, fmt.Errorf("%w: filter %s=%q must use eq.", ErrInvalidInput, col, raw)
		}
		if filter == nil {
			filter = Filter{}
		}
		filter[col] = v
	}
	return filter, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
