package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoBoard is returned when the board element is missing from the page.
var ErrNoBoard = errors.New("reader: board element not found")

// HTML reads a position from a static page: one GET, then a CSS selector
// and an attribute (or the element text when Attribute is empty).
type HTML struct {
	URL       string
	Selector  string
	Attribute string

	client *http.Client
	ua     string
}

// HTMLOption configures an HTML reader.
type HTMLOption func(*HTML)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) HTMLOption {
	return func(h *HTML) { h.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTMLOption {
	return func(h *HTML) { h.ua = ua }
}

// NewHTML creates an HTML reader.
func NewHTML(url, selector, attribute string, opts ...HTMLOption) *HTML {
	h := &HTML{
		URL:       url,
		Selector:  selector,
		Attribute: attribute,
		client:    &http.Client{Timeout: 10 * time.Second},
		ua:        "Mozilla/5.0 (compatible; BoardWatch/1.0)",
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Read implements Reader.
func (h *HTML) Read(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return "", fmt.Errorf("reader: new request: %w", err)
	}
	req.Header.Set("User-Agent", h.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reader: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("reader: status %d", resp.StatusCode)
	}

	// Cap read to 2MB; a board page is small.
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("reader: parse html: %w", err)
	}
	return Extract(doc, h.Selector, h.Attribute)
}

// Extract pulls the position from the first element matching selector.
func Extract(doc *goquery.Document, selector, attribute string) (string, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", ErrNoBoard
	}
	if attribute == "" {
		return strings.TrimSpace(sel.Text()), nil
	}
	v, ok := sel.Attr(attribute)
	if !ok {
		return "", fmt.Errorf("reader: attribute %q missing on %q", attribute, selector)
	}
	return strings.TrimSpace(v), nil
}
