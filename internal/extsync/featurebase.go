package extsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var featurebasePages = []string{"/roadmap", "/"}

// FeaturebaseClient scrapes the public board pages of one organization.
type FeaturebaseClient struct {
	http    *resty.Client
	baseURL string
}

func NewFeaturebaseClient(baseURL string) *FeaturebaseClient {
	baseURL = strings.TrimRight(baseURL, "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("User-Agent", "lumen-feedback-sync")
	return &FeaturebaseClient{http: client, baseURL: baseURL}
}

// FeaturebaseFetch is what one scrape of the board produced.
type FeaturebaseFetch struct {
	Items []Item `json:"items"`
	// Skipped counts posts found on the board whose status is not in review.
	Skipped int `json:"skipped"`
	// Failed lists pages that could not be loaded.
	Failed []string `json:"failed,omitempty"`
}

// FetchInReview loads every board page and returns the posts in review,
// deduplicated by slug, or by id for posts without one. It fails only when
// no page could be loaded.
func (c *FeaturebaseClient) FetchInReview(ctx context.Context) (FeaturebaseFetch, error) {
	var (
		fetch FeaturebaseFetch
		errs  []error
		seen  = map[string]bool{}
	)
	for _, page := range featurebasePages {
		resp, err := c.http.R().SetContext(ctx).Get(page)
		if err == nil && resp.IsError() {
			err = fmt.Errorf("%s", resp.Status())
		}
		if err != nil {
			fetch.Failed = append(fetch.Failed, page)
			errs = append(errs, fmt.Errorf("featurebase %s: %w", page, err))
			continue
		}
		posts, err := extractPosts(resp.String())
		if err != nil {
			fetch.Failed = append(fetch.Failed, page)
			errs = append(errs, fmt.Errorf("featurebase %s: %w", page, err))
			continue
		}
		for _, post := range posts {
			if seen[post.id] || (post.slug != "" && seen[post.slug]) {
				continue
			}
			seen[post.id] = true
			if post.slug != "" {
				seen[post.slug] = true
			}
			if !strings.Contains(strings.ToLower(post.status), "in review") {
				fetch.Skipped++
				continue
			}
			fetch.Items = append(fetch.Items, c.mapPost(post))
		}
	}
	if len(fetch.Failed) == len(featurebasePages) {
		return fetch, errors.Join(errs...)
	}
	return fetch, nil
}

func (c *FeaturebaseClient) mapPost(post featurebasePost) Item {
	tags := []string{"source:featurebase"}
	if category := normalizeTag(post.category); category != "" {
		tags = append(tags, "fb:"+category)
	}
	description := post.title
	if post.content != "" {
		description = post.title + "\n\n" + post.content
	}
	slug := post.slug
	if slug == "" {
		slug = post.id
	}
	return Item{
		ExternalID:     post.id,
		URL:            c.baseURL + "/p/" + slug,
		Title:          post.title,
		Type:           inferType(post.title, post.content, nil),
		Priority:       "medium",
		Description:    description,
		Tags:           tags,
		UpstreamStatus: post.status,
		UpdatedAt:      post.updatedAt,
	}
}

type featurebasePost struct {
	id        string
	slug      string
	title     string
	content   string
	status    string
	category  string
	updatedAt string
}

// extractPosts tries embedded JSON first and falls back to post links.
func extractPosts(page string) ([]featurebasePost, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}
	if posts := postsFromScripts(doc); len(posts) > 0 {
		return posts, nil
	}
	return postsFromAnchors(doc), nil
}

func walkNodes(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkNodes(child, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func postsFromScripts(doc *html.Node) []featurebasePost {
	var posts []featurebasePost
	walkNodes(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Script {
			return
		}
		if !strings.EqualFold(attr(n, "type"), "application/json") || n.FirstChild == nil {
			return
		}
		var blob any
		if err := json.Unmarshal([]byte(n.FirstChild.Data), &blob); err != nil {
			return
		}
		collectPosts(blob, &posts)
	})
	return posts
}

// collectPosts walks a decoded JSON value. Objects that look like posts are
// taken whole; everything else is searched recursively.
func collectPosts(value any, posts *[]featurebasePost) {
	switch v := value.(type) {
	case map[string]any:
		if post, ok := postFromObject(v); ok {
			*posts = append(*posts, post)
			return
		}
		for _, key := range slices.Sorted(maps.Keys(v)) {
			collectPosts(v[key], posts)
		}
	case []any:
		for _, child := range v {
			collectPosts(child, posts)
		}
	}
}

func postFromObject(obj map[string]any) (featurebasePost, bool) {
	title := strings.TrimSpace(stringField(obj, "title"))
	if title == "" {
		return featurebasePost{}, false
	}
	// the slug is the only key anchors can see, so it wins over the id
	slug := stringField(obj, "slug")
	id := firstNonEmpty(slug, stringField(obj, "id"), stringField(obj, "_id"))
	if id == "" {
		return featurebasePost{}, false
	}

	var status string
	if postStatus, ok := obj["postStatus"].(map[string]any); ok {
		status = stringField(postStatus, "name")
	}
	switch s := obj["status"].(type) {
	case map[string]any:
		status = firstNonEmpty(status, stringField(s, "name"))
	case string:
		status = firstNonEmpty(status, s)
	}
	if status == "" {
		return featurebasePost{}, false
	}

	var category string
	switch c := obj["category"].(type) {
	case map[string]any:
		category = firstNonEmpty(stringField(c, "category"), stringField(c, "name"))
	case string:
		category = c
	}

	return featurebasePost{
		id:        id,
		slug:      slug,
		title:     title,
		content:   stripHTML(firstNonEmpty(stringField(obj, "content"), stringField(obj, "description"))),
		status:    strings.TrimSpace(status),
		category:  category,
		updatedAt: firstNonEmpty(stringField(obj, "lastModified"), stringField(obj, "updatedAt"), stringField(obj, "date")),
	}, true
}

var postPath = regexp.MustCompile(`/p/([A-Za-z0-9._~-]+)`)

// postsFromAnchors reads /p/<slug> links. The status of a post is the text
// of the nearest heading before it in document order.
func postsFromAnchors(doc *html.Node) []featurebasePost {
	var (
		posts   []featurebasePost
		heading string
	)
	walkNodes(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			heading = textContent(n)
		case atom.A:
			match := postPath.FindStringSubmatch(attr(n, "href"))
			if match == nil {
				return
			}
			title := textContent(n)
			if title == "" {
				return
			}
			posts = append(posts, featurebasePost{
				id:     match[1],
				slug:   match[1],
				title:  title,
				status: heading,
			})
		}
	})
	return posts
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walkNodes(n, func(child *html.Node) {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
			b.WriteByte(' ')
		}
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// stripHTML reduces rich post content to plain text.
func stripHTML(content string) string {
	if !strings.Contains(content, "<") {
		return strings.Join(strings.Fields(content), " ")
	}
	var b strings.Builder
	tokens := html.NewTokenizer(strings.NewReader(content))
	for {
		switch tokens.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(tokens.Text())
			b.WriteByte(' ')
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
