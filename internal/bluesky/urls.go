package bluesky

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var postURLPattern = regexp.MustCompile(`(?i)bsky\.app/profile/([^/\s?#]+)/post/([a-z0-9]+)`)

// ParsePostURL extracts the actor (handle or DID) and record key from a
// bsky.app post URL.
func ParsePostURL(postURL string) (actor, rkey string, ok bool) {
	match := postURLPattern.FindStringSubmatch(postURL)
	if match == nil {
		return "", "", false
	}
	return match[1], match[2], true
}

// IsPostURL reports whether postURL is a well-formed bsky.app post URL.
func IsPostURL(postURL string) bool {
	_, _, ok := ParsePostURL(postURL)
	return ok
}

// PostURLFromURI builds the bsky.app URL of a post from its AT URI.
func PostURLFromURI(handle, atURI string) string {
	rkey := atURI[strings.LastIndex(atURI, "/")+1:]
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey)
}

// PostURI builds the AT URI of a post record.
func PostURI(did, rkey string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.post/%s", did, rkey)
}

// ExtractLinks extracts URLs from a post's facets and embeds
func ExtractLinks(post *Post) []string {
	var links []string

	for _, facet := range post.Record.Facets {
		for _, feature := range facet.Features {
			if feature.Type == "app.bsky.richtext.facet#link" && feature.URI != "" {
				links = append(links, feature.URI)
			}
		}
	}

	for _, embed := range []*Embed{post.Record.Embed, post.Embed} {
		if embed != nil && embed.External != nil && embed.External.URI != "" {
			links = append(links, embed.External.URI)
		}
	}

	return lo.Uniq(links)
}
