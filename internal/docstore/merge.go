package docstore

import (
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// MergePatch applies an RFC 7386 JSON merge patch to target. A nil or empty
// target is treated as an empty object.
func MergePatch(target, patch []byte) ([]byte, error) {
	if len(target) == 0 {
		target = []byte("{}")
	}
	out, err := jsonpatch.MergePatch(target, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: merge patch: %v", ErrInvalidDocument, err)
	}
	return out, nil
}
