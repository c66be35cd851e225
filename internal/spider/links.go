package spider

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractedLinks holds the links discovered from one HTML page plus
// how many <form> elements were found, per spec.md §4.8's
// "record links_found and forms_found".
type ExtractedLinks struct {
	Links      []string
	FormsFound int
}

// linkAttrs maps the tags spec.md §4.8 names to the attribute carrying
// the URL on each: <a href>, <form action>, <script src>, <link href>,
// <img src>.
var linkAttrs = map[string]string{
	"a":      "href",
	"form":   "action",
	"script": "src",
	"link":   "href",
	"img":    "src",
}

// ExtractLinks walks the HTML document in r and resolves every
// discovered URL against base, grounded on golang.org/x/net/html's
// tokenizer (the idiomatic Go HTML parser the pack's
// teemuteemu-caddy-language-server go.mod already depends on).
func ExtractLinks(r io.Reader, base *url.URL) ExtractedLinks {
	var out ExtractedLinks
	z := html.NewTokenizer(r)

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		tok := z.Token()
		attrName, ok := linkAttrs[strings.ToLower(tok.Data)]
		if !ok {
			continue
		}
		if strings.ToLower(tok.Data) == "form" {
			out.FormsFound++
		}

		for _, a := range tok.Attr {
			if !strings.EqualFold(a.Key, attrName) {
				continue
			}
			if resolved, ok := resolve(base, a.Val); ok {
				out.Links = append(out.Links, resolved)
			}
		}
	}
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "data:") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
