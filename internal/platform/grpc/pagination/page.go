// Package pagination normalizes page sizes and keyset page tokens.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

const cursorPrefix = "after:"

// EncodeCursor returns an opaque page token resuming after the given id.
// Zero means there is no next page and encodes as the empty token.
func EncodeCursor(afterID int64) string {
	if afterID <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(afterID, 10)))
}

// DecodeCursor parses a token produced by EncodeCursor. The empty token
// starts from the beginning.
func DecodeCursor(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("decode page token: %w", err)
	}
	value, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("page token has unexpected format")
	}
	afterID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || afterID <= 0 {
		return 0, fmt.Errorf("page token has invalid position")
	}
	return afterID, nil
}
