package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"
)

// GitHubClient posts analysis results back to pull requests. Calls are
// rate limited well under the API allowance because hook jobs retry.
type GitHubClient struct {
	client      *github.Client
	rateLimiter *rate.Limiter
}

// NewGitHubClient builds a client authenticated with the tenant's
// installation token.
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		client:      github.NewClient(nil).WithAuthToken(token),
		rateLimiter: rate.NewLimiter(rate.Limit(2), 1),
	}
}

// splitSlug parses "owner/name".
func splitSlug(slug string) (string, string, error) {
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository slug %q is not owner/name", slug)
	}
	return parts[0], parts[1], nil
}

// PostPRComment leaves the formatted analysis summary on a pull
// request.
func (c *GitHubClient) PostPRComment(ctx context.Context, repoSlug string, prNumber int, body string) error {
	owner, name, err := splitSlug(repoSlug)
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := c.client.Issues.CreateComment(ctx, owner, name, prNumber, comment); err != nil {
		return fmt.Errorf("post PR comment: %w", err)
	}
	return nil
}

// PostCheckRun records a completed check on the analyzed commit.
// Conclusion is success, neutral or failure.
func (c *GitHubClient) PostCheckRun(ctx context.Context, repoSlug, headSHA, conclusion, title, summary string) error {
	owner, name, err := splitSlug(repoSlug)
	if err != nil {
		return err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	opts := github.CreateCheckRunOptions{
		Name:       "reposage",
		HeadSHA:    headSHA,
		Status:     github.String("completed"),
		Conclusion: github.String(conclusion),
		Output: &github.CheckRunOutput{
			Title:   github.String(title),
			Summary: github.String(summary),
		},
	}
	if _, _, err := c.client.Checks.CreateCheckRun(ctx, owner, name, opts); err != nil {
		return fmt.Errorf("create check run: %w", err)
	}
	return nil
}
