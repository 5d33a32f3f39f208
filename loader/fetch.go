package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// WebPage is a fetched web page reduced to plain text.
type WebPage struct {
	Text        string
	ContentType string
}

type PageFetcher struct {
	client    *http.Client
	maxSize   int64
	retryOpts []retry.Option
}

func NewPageFetcher(timeout time.Duration, maxSize int64, retryOpts ...retry.Option) *PageFetcher {
	return &PageFetcher{
		client:    &http.Client{Timeout: timeout},
		maxSize:   maxSize,
		retryOpts: retryOpts,
	}
}

type fetchStatusError struct {
	code int
}

func (e *fetchStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (f *PageFetcher) Fetch(ctx context.Context, pageURL string) (*WebPage, error) {
	opts := append([]retry.Option{
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			var se *fetchStatusError
			if errors.As(err, &se) {
				return se.code == http.StatusTooManyRequests || se.code >= 500
			}
			return !errors.Is(err, ErrPayloadTooLarge)
		}),
		retry.OnRetry(func(n uint, err error) {
			ctxzap.Extract(ctx).Warn("retrying page fetch", zap.Uint("attempt", n+1), zap.String("url", pageURL), zap.Error(err))
		}),
	}, f.retryOpts...)

	page, err := retry.DoWithData(func() (*WebPage, error) {
		return f.fetchOnce(ctx, pageURL)
	}, opts...)
	if errors.Is(err, ErrPayloadTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, badRequest("could not fetch %s: %v", pageURL, err)
	}
	return page, nil
}

func (f *PageFetcher) fetchOnce(ctx context.Context, pageURL string) (*WebPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &fetchStatusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxSize {
		return nil, tooLarge(int64(len(body)), f.maxSize)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" {
		mediaType = "text/html"
	}

	text := string(body)
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		text = stripHTML(text)
	}
	return &WebPage{Text: cleanText(text), ContentType: mediaType}, nil
}

var (
	spacesRe     = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n+`)
)

// stripHTML reduces a page to its visible text. Block elements become line
// breaks; script, style, noscript and template subtrees are dropped.
func stripHTML(s string) string {
	var (
		b       strings.Builder
		skipped int
	)
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseSpace(b.String())
		case html.TextToken:
			if skipped == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := atom.Lookup(name)
			if hiddenTag(tag) {
				switch {
				case tt == html.StartTagToken:
					skipped++
				case tt == html.EndTagToken && skipped > 0:
					skipped--
				}
				continue
			}
			if skipped > 0 {
				continue
			}
			if blockTag(tag) {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
	}
}

func hiddenTag(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}

func blockTag(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Section, atom.Article, atom.Header, atom.Footer, atom.Table, atom.Ul, atom.Ol:
		return true
	}
	return false
}

func collapseSpace(s string) string {
	s = spacesRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(s, "\n\n"))
}
