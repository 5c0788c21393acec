package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Paginate repeatedly calls method, appending result[dataField] to the accumulator and
// feeding the returned marker into the next request until a response carries no marker.
// Any failed page aborts the whole call.
func (c *Client) Paginate(ctx context.Context, method, dataField string, params map[string]interface{}) ([]json.RawMessage, error) {
	var (
		records []json.RawMessage
		marker  json.RawMessage
		page    int
	)

	for {
		pageParams := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			pageParams[k] = v
		}
		if marker != nil {
			pageParams["marker"] = marker
		}

		raw, err := c.Call(ctx, method, pageParams)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		var result map[string]json.RawMessage
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("%s: page %d: decode result: %w", method, page, err)
		}

		if data, ok := result[dataField]; ok && !isNull(data) {
			var items []json.RawMessage
			if err := json.Unmarshal(data, &items); err != nil {
				return nil, fmt.Errorf("%s: page %d: field %s is not a list: %w", method, page, dataField, err)
			}
			records = append(records, items...)
		}

		next, ok := result["marker"]
		if !ok || isNull(next) {
			c.logger.Debug("Paginated %s over %d pages, %d records", method, page+1, len(records))
			return records, nil
		}
		if marker != nil && bytes.Equal(next, marker) {
			return nil, fmt.Errorf("%s: page %d: server returned the same marker twice", method, page)
		}
		marker = next
		page++
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
