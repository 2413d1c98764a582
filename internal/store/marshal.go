package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/envelope"
)

// marshalAttrs renders signal attributes as canonical JSON, empty string
// for no attributes.
func marshalAttrs(attrs envelope.AttrObject) (string, error) {
	if len(attrs) == 0 {
		return "", nil
	}
	b, err := envelope.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(b), nil
}

func unmarshalAttrs(s string) (envelope.AttrObject, error) {
	if s == "" {
		return nil, nil
	}
	var obj envelope.AttrObject
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return obj, nil
}

// String lists are stored newline-joined rather than as JSON; every
// element is an id or tag that cannot contain a newline.
func joinList(items []string) string {
	return strings.Join(items, "\n")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
