package prismic

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// previewRefFromRequest reads the preview ref from the Prismic preview cookie. Older toolbars
// store the ref directly; newer ones store {"<repo>.prismic.io":{"preview":"<ref>"}}.
func previewRefFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(PreviewCookie)
	if err != nil {
		return ""
	}
	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		value = cookie.Value
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, "{") {
		return value
	}

	var byRepo map[string]struct {
		Preview string `json:"preview"`
	}
	if err := json.Unmarshal([]byte(value), &byRepo); err != nil {
		return ""
	}
	for _, entry := range byRepo {
		if ref := strings.TrimSpace(entry.Preview); ref != "" {
			return ref
		}
	}
	return ""
}
