package renderer

import (
	"strings"

	gohtml "golang.org/x/net/html"
)

type pageScript struct {
	source     string
	typeScript bool
}

// page holds what navigation executes from an HTML document.
type page struct {
	scripts []pageScript
	frames  []string // iframe srcdoc documents
}

// scanDocument collects inline scripts and srcdoc iframes in document
// order. Scripts with a src attribute or a non-script type are skipped.
func scanDocument(doc string) page {
	var p page
	tokenizer := gohtml.NewTokenizer(strings.NewReader(doc))
	var current *pageScript
	for {
		tt := tokenizer.Next()
		if tt == gohtml.ErrorToken {
			return p
		}
		tok := tokenizer.Token()
		switch tt {
		case gohtml.StartTagToken, gohtml.SelfClosingTagToken:
			attrs := attrMap(tok.Attr)
			switch tok.Data {
			case "script":
				if tt == gohtml.SelfClosingTagToken {
					continue
				}
				if _, ok := attrs["src"]; ok {
					continue
				}
				kind, ok := scriptKind(attrs["type"])
				if !ok {
					continue
				}
				current = &pageScript{typeScript: kind == "ts"}
			case "iframe":
				if srcdoc, ok := attrs["srcdoc"]; ok {
					p.frames = append(p.frames, srcdoc)
				}
			}
		case gohtml.TextToken:
			if current != nil {
				current.source += tok.Data
			}
		case gohtml.EndTagToken:
			if tok.Data == "script" && current != nil {
				if strings.TrimSpace(current.source) != "" {
					p.scripts = append(p.scripts, *current)
				}
				current = nil
			}
		}
	}
}

func scriptKind(typ string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module":
		return "js", true
	case "text/typescript", "application/typescript":
		return "ts", true
	}
	return "", false
}

func attrMap(attrs []gohtml.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Val
	}
	return m
}
