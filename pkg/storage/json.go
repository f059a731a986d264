package storage

import "encoding/json"

// marshalJSONMap encodes a metadata/attributes map for a JSONB column. A nil
// map marshals to "null"; Postgres accepts that for a NOT NULL JSONB column
// only because the column's DEFAULT applies solely to an omitted value, not
// an explicit null, so callers that may pass nil should route through this
// helper rather than json.Marshal directly.
func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}
