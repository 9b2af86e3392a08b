package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"marketintel/internal/browser"
)

// NavigationError is a failed or timed-out page load. It ends the job.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// openPage creates a fingerprinted page in bctx and loads target
func openPage(ctx context.Context, bctx *browser.Context, target string, timeout time.Duration) (*rod.Page, error) {
	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, &NavigationError{URL: target, Err: err}
	}
	if err := navigate(ctx, page, target, timeout); err != nil {
		return nil, err
	}
	return page, nil
}

// navigate loads target in page, bounded by timeout
func navigate(ctx context.Context, page *rod.Page, target string, timeout time.Duration) error {
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(nctx)
	if err := p.Navigate(target); err != nil {
		return &NavigationError{URL: target, Err: err}
	}
	if err := p.WaitLoad(); err != nil {
		return &NavigationError{URL: target, Err: err}
	}
	return nil
}

// cards returns the elements matched by the first selector that finds any.
// Elements does not wait, so a page without cards returns immediately.
func cards(page *rod.Page, selectors ...string) (rod.Elements, error) {
	for _, selector := range selectors {
		elements, err := page.Elements(selector)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", selector, err)
		}
		if len(elements) > 0 {
			return elements, nil
		}
	}
	return nil, nil
}

// textOf returns the trimmed text of the first selector present under el
func textOf(el *rod.Element, selectors ...string) string {
	for _, selector := range selectors {
		has, child, err := el.Has(selector)
		if err != nil || !has {
			continue
		}
		text, err := child.Text()
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return ""
}

// nextHref returns the absolute link of the first pagination control found,
// or "" when there is none
func nextHref(page *rod.Page, selectors ...string) (string, error) {
	for _, selector := range selectors {
		has, el, err := page.Has(selector)
		if err != nil {
			return "", fmt.Errorf("query %s: %w", selector, err)
		}
		if !has {
			continue
		}
		prop, err := el.Property("href")
		if err != nil {
			return "", fmt.Errorf("read %s href: %w", selector, err)
		}
		if href := prop.Str(); strings.HasPrefix(href, "http") {
			return href, nil
		}
	}
	return "", nil
}
