package aptus

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	tokenFieldName   = "__RequestVerificationToken"
	saltFieldName    = "PasswordSalt"
	lockCardClass    = "lockCard"
	entranceDoorPref = "entranceDoor_"
)

// loginForm holds the hidden fields scraped from Account/Login.
type loginForm struct {
	Token string
	Salt  string
}

// parseLoginForm extracts the anti-forgery token and password salt.
// The first token input wins; an empty token is an error. The salt input
// must carry both id and name PasswordSalt and defaults to 611.
func parseLoginForm(r io.Reader) (loginForm, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return loginForm{}, fmt.Errorf("parsing login page: %w", err)
	}

	var (
		form       loginForm
		foundToken bool
		foundSalt  bool
	)
	walk(doc, func(n *html.Node) bool {
		if !isElement(n, "input") {
			return true
		}
		name := attr(n, "name")
		if !foundToken && name == tokenFieldName {
			foundToken = true
			form.Token = attr(n, "value")
		}
		if !foundSalt && name == saltFieldName && attr(n, "id") == saltFieldName {
			foundSalt = true
			form.Salt = attr(n, "value")
		}
		return !(foundToken && foundSalt)
	})

	if form.Token == "" {
		return loginForm{}, ErrLoginPage
	}
	if form.Salt == "" {
		form.Salt = DefaultPasswordSalt
	}
	return form, nil
}

// parseLockCards returns the entrance doors listed on the Lock page.
//
// Each door is a div.lockCard with id entranceDoor_<n>. The display name is
// the leading text of the card's first div, with the text of a nested span
// appended in parentheses. Cards whose id suffix is not a number are skipped.
func parseLockCards(r io.Reader) ([]Lock, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing lock page: %w", err)
	}

	locks := []Lock{}
	walk(doc, func(n *html.Node) bool {
		if !isElement(n, "div") || !hasClass(n, lockCardClass) {
			return true
		}
		rawID := attr(n, "id")
		if !strings.HasPrefix(rawID, entranceDoorPref) {
			return false
		}
		id, err := strconv.Atoi(rawID[strings.LastIndex(rawID, "_")+1:])
		if err != nil {
			return false
		}
		locks = append(locks, Lock{ID: id, Name: lockName(n, id), RawID: rawID})
		return false
	})

	return locks, nil
}

func lockName(card *html.Node, id int) string {
	nameDiv := findFirst(card, func(n *html.Node) bool { return n != card && isElement(n, "div") })
	if nameDiv == nil {
		return fmt.Sprintf("Entrance door %d", id)
	}

	var main string
	if first := nameDiv.FirstChild; first != nil && first.Type == html.TextNode {
		main = strings.TrimSpace(first.Data)
	}

	var sub string
	if span := findFirst(nameDiv, func(n *html.Node) bool { return isElement(n, "span") }); span != nil {
		sub = strings.TrimSpace(textContent(span))
	}

	switch {
	case main == "" && sub == "":
		return fmt.Sprintf("Entrance door %d", id)
	case sub == "":
		return main
	case main == "":
		return sub
	default:
		return main + " (" + sub + ")"
	}
}

// walk visits n and its descendants depth-first in document order.
// Returning false from visit skips the node's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}
