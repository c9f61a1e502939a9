package postservice

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	nonAlnumRX   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	whitespaceRX = regexp.MustCompile(`\s+`)
)

// objectKey derives the storage key for a post body: the slugified title
// plus the creation time in unix milliseconds. Generated once at creation,
// never regenerated; updates overwrite the same key.
func objectKey(title string, now time.Time) string {
	slug := nonAlnumRX.ReplaceAllString(title, " ")
	slug = whitespaceRX.ReplaceAllString(slug, "-")
	return slug + ":" + strconv.FormatInt(now.UnixMilli(), 10)
}

// keyFromURL recovers the object key from a stored content URL: the
// segment after the last slash.
func keyFromURL(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
