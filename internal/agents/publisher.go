package agents

import (
	"context"
	"errors"

	"github.com/lucasnoah/auditfactory/internal/github"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// ErrPublishNotConfigured is returned when no issue filer is set up.
var ErrPublishNotConfigured = errors.New("publishing is not configured (set publish.github_token)")

// Publisher files issue specs on the repository's issue tracker.
type Publisher struct {
	filer IssueFiler
}

func (p *Publisher) Publish(ctx context.Context, req pipeline.PublishRequest) (pipeline.PublishResponse, error) {
	if p.filer == nil {
		return pipeline.PublishResponse{}, ErrPublishNotConfigured
	}
	issues := make([]github.NewIssue, 0, len(req.Issues))
	for _, is := range req.Issues {
		labels := []string{"severity:" + string(is.Severity)}
		if is.Category != "" {
			labels = append(labels, "category:"+is.Category)
		}
		issues = append(issues, github.NewIssue{Title: is.Title, Body: is.Body, Labels: labels})
	}
	filed, err := p.filer.EnsureIssues(ctx, req.Owner, req.Repo, issues)
	if err != nil {
		return pipeline.PublishResponse{}, err
	}
	out := make([]pipeline.PublishedIssue, 0, len(filed))
	for _, f := range filed {
		out = append(out, pipeline.PublishedIssue{Title: f.Title, Number: f.Number, URL: f.URL, Existing: f.Existing})
	}
	return pipeline.PublishResponse{Published: out}, nil
}
