// Package analytics reads Cloudflare R2 bucket analytics from the GraphQL
// analytics API.
package analytics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 12 * time.Second

var ErrNotConfigured = errors.New("cloudflare analytics not configured")

type Config struct {
	APIURL    string
	APIToken  string
	AccountID string
	Bucket    string
}

type Client struct {
	http      *resty.Client
	accountID string
	bucket    string
	now       func() time.Time
}

func NewClient(cfg Config) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.cloudflare.com/client/v4/graphql"
	}
	client := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(requestTimeout).
		SetAuthToken(cfg.APIToken).
		SetHeader("Content-Type", "application/json")
	return &Client{http: client, accountID: cfg.AccountID, bucket: cfg.Bucket, now: time.Now}
}

type OperationCount struct {
	Action   string `json:"action"`
	Class    string `json:"class"`
	Requests int64  `json:"requests"`
}

type DailyCount struct {
	Date     string `json:"date"`
	Requests int64  `json:"requests"`
	Reads    int64  `json:"reads"`
}

type R2Summary struct {
	Bucket        string           `json:"bucket"`
	Since         time.Time        `json:"since"`
	Until         time.Time        `json:"until"`
	ObjectCount   int64            `json:"objectCount"`
	PayloadBytes  int64            `json:"payloadBytes"`
	MetadataBytes int64            `json:"metadataBytes"`
	ClassA        int64            `json:"classAOperations"`
	ClassB        int64            `json:"classBOperations"`
	Downloads     int64            `json:"downloads"`
	Operations    []OperationCount `json:"operations"`
	Daily         []DailyCount     `json:"daily"`
}

const r2Query = `query R2Analytics($accountTag: string!, $bucket: string!, $since: Time!, $until: Time!) {
  viewer {
    accounts(filter: {accountTag: $accountTag}) {
      storage: r2StorageAdaptiveGroups(limit: 1, filter: {bucketName: $bucket, datetime_geq: $since, datetime_leq: $until}, orderBy: [datetime_DESC]) {
        max { objectCount payloadSize metadataSize }
      }
      operations: r2OperationsAdaptiveGroups(limit: 10000, filter: {bucketName: $bucket, datetime_geq: $since, datetime_leq: $until}) {
        sum { requests }
        dimensions { actionType date }
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type r2Response struct {
	Data struct {
		Viewer struct {
			Accounts []struct {
				Storage []struct {
					Max struct {
						ObjectCount  int64 `json:"objectCount"`
						PayloadSize  int64 `json:"payloadSize"`
						MetadataSize int64 `json:"metadataSize"`
					} `json:"max"`
				} `json:"storage"`
				Operations []struct {
					Sum struct {
						Requests int64 `json:"requests"`
					} `json:"sum"`
					Dimensions struct {
						ActionType string `json:"actionType"`
						Date       string `json:"date"`
					} `json:"dimensions"`
				} `json:"operations"`
			} `json:"accounts"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Class A operations mutate or list; everything else R2 bills as class B.
var classAActions = map[string]bool{
	"ListBuckets": true, "PutBucket": true, "ListObjects": true, "PutObject": true,
	"CopyObject": true, "CompleteMultipartUpload": true, "CreateMultipartUpload": true,
	"UploadPart": true, "UploadPartCopy": true, "ListMultipartUploads": true, "ListParts": true,
	"PutBucketEncryption": true, "PutBucketCors": true, "PutBucketLifecycleConfiguration": true,
	"LifecycleStorageTierTransition": true,
}

func actionClass(action string) string {
	if classAActions[action] {
		return "A"
	}
	return "B"
}

// R2 summarizes the last days of storage and operations for the bucket.
func (c *Client) R2(ctx context.Context, days int) (R2Summary, error) {
	if c == nil || c.accountID == "" || c.bucket == "" {
		return R2Summary{}, ErrNotConfigured
	}
	if days <= 0 || days > 90 {
		days = 30
	}
	until := c.now().UTC().Truncate(time.Second)
	since := until.AddDate(0, 0, -days)

	var payload r2Response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(graphqlRequest{Query: r2Query, Variables: map[string]any{
			"accountTag": c.accountID,
			"bucket":     c.bucket,
			"since":      since.Format(time.RFC3339),
			"until":      until.Format(time.RFC3339),
		}}).
		SetResult(&payload).
		Post("")
	if err != nil {
		return R2Summary{}, fmt.Errorf("cloudflare analytics: %w", err)
	}
	if resp.IsError() {
		return R2Summary{}, fmt.Errorf("cloudflare analytics: %s", resp.Status())
	}
	if len(payload.Errors) > 0 {
		messages := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			messages = append(messages, e.Message)
		}
		return R2Summary{}, fmt.Errorf("cloudflare analytics: %s", strings.Join(messages, "; "))
	}

	summary := R2Summary{Bucket: c.bucket, Since: since, Until: until, Operations: []OperationCount{}, Daily: []DailyCount{}}
	if len(payload.Data.Viewer.Accounts) == 0 {
		return summary, nil
	}
	account := payload.Data.Viewer.Accounts[0]
	if len(account.Storage) > 0 {
		summary.ObjectCount = account.Storage[0].Max.ObjectCount
		summary.PayloadBytes = account.Storage[0].Max.PayloadSize
		summary.MetadataBytes = account.Storage[0].Max.MetadataSize
	}

	byAction := map[string]int64{}
	byDate := map[string]*DailyCount{}
	for _, group := range account.Operations {
		action, requests := group.Dimensions.ActionType, group.Sum.Requests
		byAction[action] += requests
		if actionClass(action) == "A" {
			summary.ClassA += requests
		} else {
			summary.ClassB += requests
		}
		day, ok := byDate[group.Dimensions.Date]
		if !ok {
			day = &DailyCount{Date: group.Dimensions.Date}
			byDate[group.Dimensions.Date] = day
		}
		day.Requests += requests
		if action == "GetObject" {
			summary.Downloads += requests
			day.Reads += requests
		}
	}
	for action, requests := range byAction {
		summary.Operations = append(summary.Operations, OperationCount{Action: action, Class: actionClass(action), Requests: requests})
	}
	slices.SortFunc(summary.Operations, func(a, b OperationCount) int {
		if c := cmp.Compare(b.Requests, a.Requests); c != 0 {
			return c
		}
		return strings.Compare(a.Action, b.Action)
	})
	for _, day := range byDate {
		summary.Daily = append(summary.Daily, *day)
	}
	slices.SortFunc(summary.Daily, func(a, b DailyCount) int { return strings.Compare(a.Date, b.Date) })
	return summary, nil
}
