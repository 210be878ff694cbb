package extsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const maxGitHubPages = 50

type GitHubConfig struct {
	APIURL string
	Token  string
	Owner  string
	Repo   string
}

// GitHubClient lists open issues of one repository.
type GitHubClient struct {
	http    *resty.Client
	owner   string
	repo    string
	limiter *rate.Limiter
}

func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	client := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(20*time.Second).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetHeader("User-Agent", "lumen-feedback-sync")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &GitHubClient{
		http:    client,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 2),
	}
}

type githubIssue struct {
	Number      int64           `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	HTMLURL     string          `json:"html_url"`
	State       string          `json:"state"`
	UpdatedAt   string          `json:"updated_at"`
	Labels      []githubLabel   `json:"labels"`
	PullRequest json.RawMessage `json:"pull_request"`
}

type githubLabel struct {
	Name string `json:"name"`
}

// FetchOpenIssues follows Link rel="next" until the last page. Pull
// requests are dropped; the second return value counts them.
func (c *GitHubClient) FetchOpenIssues(ctx context.Context) ([]Item, int, error) {
	next := fmt.Sprintf("/repos/%s/%s/issues?state=open&per_page=100", url.PathEscape(c.owner), url.PathEscape(c.repo))
	items := make([]Item, 0)
	pulls := 0

	for page := 0; next != "" && page < maxGitHubPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
		var issues []githubIssue
		resp, err := c.http.R().SetContext(ctx).SetResult(&issues).Get(next)
		if err != nil {
			return nil, 0, fmt.Errorf("github issues: %w", err)
		}
		if resp.IsError() {
			return nil, 0, fmt.Errorf("github issues: %s: %s", resp.Status(), truncate(resp.String(), 200))
		}
		for _, issue := range issues {
			if len(issue.PullRequest) > 0 && string(issue.PullRequest) != "null" {
				pulls++
				continue
			}
			items = append(items, mapIssue(issue))
		}
		next = nextLink(resp.Header().Get("Link"))
	}
	return items, pulls, nil
}

var linkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?([^";,]+)"?`)

// nextLink returns the rel="next" target of a Link header, or "".
func nextLink(header string) string {
	for _, match := range linkPattern.FindAllStringSubmatch(header, -1) {
		for _, rel := range strings.Fields(match[2]) {
			if rel == "next" {
				return match[1]
			}
		}
	}
	return ""
}

func mapIssue(issue githubIssue) Item {
	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		if name := strings.TrimSpace(label.Name); name != "" {
			labels = append(labels, name)
		}
	}

	tags := []string{"source:github"}
	for _, label := range labels {
		if tag := normalizeTag(label); tag != "" {
			tags = append(tags, "gh:"+tag)
		}
	}

	title := strings.TrimSpace(issue.Title)
	description := title
	if body := strings.TrimSpace(issue.Body); body != "" {
		description = title + "\n\n" + body
	}

	return Item{
		ExternalID:     strconv.FormatInt(issue.Number, 10),
		URL:            issue.HTMLURL,
		Title:          title,
		Type:           inferType(title, issue.Body, labels),
		Priority:       inferPriority(labels),
		Description:    description,
		Tags:           tags,
		UpstreamStatus: issue.State,
		UpdatedAt:      issue.UpdatedAt,
	}
}

var (
	bugWords       = regexp.MustCompile(`\b(bugs?|crash\w*|errors?|broken|fail\w*|regressions?|freez\w*|frozen|hang|hangs|hanging|hung)\b`)
	questionWords  = regexp.MustCompile(`\b(questions?|help|support)\b|\bhow (do|to|can)\b`)
	// "help wanted" is a contributor label, not a question
	questionLabels = regexp.MustCompile(`\b(questions?|support)\b`)
	featureWords   = regexp.MustCompile(`\b(features?|enhancements?|requests?|ideas?)\b`)
)

const (
	TypeBug      = "Bug Report"
	TypeFeature  = "Feature Request"
	TypeQuestion = "Question"
)

// inferType checks bracketed title tokens, then labels, then title and body
// keywords. Anything unmatched is a feature request.
func inferType(title, body string, labels []string) string {
	lowerTitle := strings.ToLower(title)
	switch {
	case strings.Contains(lowerTitle, "[bug"):
		return TypeBug
	case strings.Contains(lowerTitle, "[feature"):
		return TypeFeature
	case strings.Contains(lowerTitle, "[question"):
		return TypeQuestion
	}

	labelText := strings.ToLower(strings.Join(labels, " "))
	switch {
	case bugWords.MatchString(labelText):
		return TypeBug
	case questionLabels.MatchString(labelText):
		return TypeQuestion
	case featureWords.MatchString(labelText):
		return TypeFeature
	}

	text := lowerTitle + "\n" + strings.ToLower(body)
	switch {
	case bugWords.MatchString(text):
		return TypeBug
	case questionWords.MatchString(text):
		return TypeQuestion
	default:
		return TypeFeature
	}
}

var (
	criticalWords = regexp.MustCompile(`\b(critical|urgent|p0|blocker|blocking)\b`)
	highWords     = regexp.MustCompile(`\b(high|p1|important)\b`)
	lowWords      = regexp.MustCompile(`\b(low|p3|minor|trivial)\b`)
)

func inferPriority(labels []string) string {
	text := strings.ToLower(strings.Join(labels, " "))
	switch {
	case criticalWords.MatchString(text):
		return "critical"
	case highWords.MatchString(text):
		return "high"
	case lowWords.MatchString(text):
		return "low"
	default:
		return "medium"
	}
}

var tagSeparators = regexp.MustCompile(`[^a-z0-9:._]+`)

// normalizeTag lowercases and dashes a label: "Good First Issue" becomes
// "good-first-issue".
func normalizeTag(label string) string {
	tag := tagSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "-")
	return strings.Trim(tag, "-")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
