// Package upload packages materialized clips and frames as Zooniverse
// subjects: it flattens their metadata, holds back rows missing required
// fields and publishes the rest into a fresh subject set.
package upload

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/koster-lab/kso-agent/internal/zooniverse"
)

// Key prefixes with special meaning on the platform.
const (
	HiddenPrefix    = "#"
	HiddenAltPrefix = "//"
	TalkOnlyPrefix  = "!"
)

// Hidden reports whether volunteers never see the key.
func Hidden(key string) bool {
	return strings.HasPrefix(key, HiddenPrefix) || strings.HasPrefix(key, HiddenAltPrefix)
}

// TalkOnly reports whether the key is only shown in Talk after classification.
func TalkOnly(key string) bool {
	return strings.HasPrefix(key, TalkOnlyPrefix)
}

// Row is one media file and the column values that travel with it.
type Row struct {
	MediaPath string
	Values    map[string]any
}

// Flatten renders every value as a string. Keys whose value is missing
// (nil, empty string or NaN) are left out and returned sorted.
func Flatten(values map[string]any) (zooniverse.Metadata, []string) {
	md := make(zooniverse.Metadata, len(values))
	var missing []string
	for k, v := range values {
		s, ok := format(v)
		if !ok {
			missing = append(missing, k)
			continue
		}
		md[k] = s
	}
	sort.Strings(missing)
	return md, missing
}

func format(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return format(float64(x))
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case fmt.Stringer:
		return format(x.String())
	default:
		return fmt.Sprint(x), true
	}
}

// MissingFieldError rejects a row before upload.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required metadata: %s", strings.Join(e.Fields, ", "))
}
