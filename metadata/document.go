/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"howett.net/plist"
)

// LoadDocuments decodes per-asset metadata documents from data, which may
// be a single JSON object, a JSON array of objects, or a property list
// (XML or binary) whose root is a dictionary or an array of dictionaries.
func LoadDocuments(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}

	var root any
	switch {
	case trimmed[0] == '{' || trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &root); err != nil {
			return nil, fmt.Errorf("decoding JSON document: %w", err)
		}
	case bytes.HasPrefix(trimmed, []byte("bplist")) || bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<plist")):
		if _, err := plist.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("decoding property list document: %w", err)
		}
	default:
		return nil, errors.New("unrecognized document encoding")
	}

	switch val := root.(type) {
	case map[string]any:
		return []map[string]any{val}, nil
	case []any:
		docs := make([]map[string]any, 0, len(val))
		for i, elem := range val {
			doc, ok := elem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object: %T", i, elem)
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}
	return nil, fmt.Errorf("document root is not an object or array: %T", root)
}
