package main

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// BodyHandler turns a raw item body from a source into the text the ranker and
// kernel see
type BodyHandler interface {
	CanHandle(contentType, body string) bool
	Handle(body string) (string, error)
}

// BodyNormalizer runs item bodies through a handler chain
type BodyNormalizer struct {
	handlers []BodyHandler
}

// NewBodyNormalizer creates a normalizer with the default handlers
func NewBodyNormalizer() *BodyNormalizer {
	n := &BodyNormalizer{}

	// most specific first
	n.AddHandler(&HTMLHandler{converter: md.NewConverter("", true, nil)})
	n.AddHandler(&PlainTextHandler{}) // fallback

	return n
}

// AddHandler adds a body handler to the chain
func (n *BodyNormalizer) AddHandler(handler BodyHandler) {
	n.handlers = append(n.handlers, handler)
}

// Normalize rewrites item.Text with the first handler that accepts it
func (n *BodyNormalizer) Normalize(item ContentItem, contentType string) (ContentItem, error) {
	for _, handler := range n.handlers {
		if handler.CanHandle(contentType, item.Text) {
			text, err := handler.Handle(item.Text)
			if err != nil {
				return item, fmt.Errorf("normalizing %s: %w", item.ID, err)
			}
			item.Text = text
			return item, nil
		}
	}
	return item, fmt.Errorf("no handler found for %s", item.ID)
}

var htmlTag = regexp.MustCompile(`(?i)</?(p|br|a|div|span|em|strong|b|i|ul|ol|li|blockquote|code|pre)\b[^>]*>`)

// HTMLHandler converts HTML bodies to markdown
type HTMLHandler struct {
	converter *md.Converter
}

func (h *HTMLHandler) CanHandle(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	return contentType == "" && htmlTag.MatchString(body)
}

func (h *HTMLHandler) Handle(body string) (string, error) {
	markdown, err := h.converter.ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}

// PlainTextHandler collapses runs of whitespace
type PlainTextHandler struct{}

func (h *PlainTextHandler) CanHandle(contentType, body string) bool {
	return true // always handles as fallback
}

func (h *PlainTextHandler) Handle(body string) (string, error) {
	return strings.Join(strings.Fields(body), " "), nil
}
