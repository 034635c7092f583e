// Package gitlab implements platform.Host against a GitLab merge request.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/revloop/internal/platform"
)

// Config contains configuration for the GitLab host.
type Config struct {
	URL        string `koanf:"url"`
	Token      string `koanf:"token"`
	RequestURL string `koanf:"request_url"`
}

// Host is a platform.Host bound to one merge request.
type Host struct {
	client  *gitlab.Client
	limiter *rate.Limiter

	projectID string
	mrIID     int

	diffRefs *gitlab.MergeRequestDiffRefs
}

var mrURLRegex = regexp.MustCompile(`(.+)/-/merge_requests/(\d+)$`)

// New creates a Host for the merge request named by config.RequestURL.
func New(config Config) (*Host, error) {
	var opts []gitlab.ClientOptionFunc
	if config.URL != "" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("%s/api/v4", config.URL)))
	}
	client, err := gitlab.NewClient(config.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	projectID, mrIID, err := parseRequestURL(config.RequestURL)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("project", projectID).
		Int("mr_iid", mrIID).
		Msg("Initialized GitLab host")

	return &Host{
		client: client,
		// The rebuild issues a burst of list calls; stay under the API's
		// unauthenticated-tier limits with headroom.
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
		projectID: projectID,
		mrIID:     mrIID,
	}, nil
}

// parseRequestURL extracts project path and MR IID from a merge request URL
// like https://gitlab.example.com/group/project/-/merge_requests/123.
func parseRequestURL(requestURL string) (string, int, error) {
	parsed, err := url.Parse(requestURL)
	if err != nil {
		return "", 0, fmt.Errorf("invalid request URL: %w", err)
	}

	path := parsed.Path
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}

	matches := mrURLRegex.FindStringSubmatch(path)
	if len(matches) != 3 {
		return "", 0, fmt.Errorf("could not extract project and MR IID from URL: %s", requestURL)
	}

	mrIID, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid MR IID: %w", err)
	}

	return matches[1], mrIID, nil
}

// HeadRevision returns the MR's current head SHA.
func (h *Host) HeadRevision(ctx context.Context) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", err
	}

	mr, _, err := h.client.MergeRequests.GetMergeRequest(h.projectID, int64(h.mrIID), nil, gitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to fetch merge request: %w", err)
	}

	h.diffRefs = &mr.DiffRefs
	return mr.SHA, nil
}

// CheckReviewable rejects merge requests a review cannot run against:
// drafts and anything no longer open.
func (h *Host) CheckReviewable(ctx context.Context) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	mr, _, err := h.client.MergeRequests.GetMergeRequest(h.projectID, int64(h.mrIID), nil, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch merge request: %w", err)
	}

	if mr.Draft {
		return fmt.Errorf("merge request !%d is a draft; reviews run on ready requests only", h.mrIID)
	}
	if mr.State != "opened" {
		return fmt.Errorf("merge request !%d is %s, not open", h.mrIID, mr.State)
	}

	h.diffRefs = &mr.DiffRefs
	return nil
}

// ListComments returns every note in every discussion on the MR, in
// discussion order with replies following their thread head.
func (h *Host) ListComments(ctx context.Context) ([]platform.Comment, error) {
	var comments []platform.Comment

	opt := &gitlab.ListMergeRequestDiscussionsOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	for {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		discussions, resp, err := h.client.Discussions.ListMergeRequestDiscussions(
			h.projectID, int64(h.mrIID), opt, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list discussions: %w", err)
		}

		for _, discussion := range discussions {
			var headID string
			for i, note := range discussion.Notes {
				if note.System {
					continue
				}
				c := noteToComment(discussion.ID, note)
				if i == 0 || headID == "" {
					headID = c.ID
				} else {
					c.ParentID = headID
				}
				comments = append(comments, c)
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}

	return comments, nil
}

func noteToComment(discussionID string, note *gitlab.Note) platform.Comment {
	c := platform.Comment{
		ID:       strconv.Itoa(int(note.ID)),
		ThreadID: discussionID,
		Author:   note.Author.Username,
		Body:     note.Body,
		Resolved: note.Resolved,
	}
	if note.CreatedAt != nil {
		c.CreatedAt = *note.CreatedAt
	}
	if note.Position != nil {
		c.File = note.Position.NewPath
		c.Line = int(note.Position.NewLine)
	}
	return c
}

// PostFinding opens a positioned discussion on the given file and line.
func (h *Host) PostFinding(ctx context.Context, file string, line int, body string) (platform.Comment, error) {
	refs, err := h.ensureDiffRefs(ctx)
	if err != nil {
		return platform.Comment{}, err
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return platform.Comment{}, err
	}

	discussion, _, err := h.client.Discussions.CreateMergeRequestDiscussion(
		h.projectID, int64(h.mrIID),
		&gitlab.CreateMergeRequestDiscussionOptions{
			Body: gitlab.Ptr(body),
			Position: &gitlab.PositionOptions{
				PositionType: gitlab.Ptr("text"),
				BaseSHA:      gitlab.Ptr(refs.BaseSha),
				StartSHA:     gitlab.Ptr(refs.StartSha),
				HeadSHA:      gitlab.Ptr(refs.HeadSha),
				NewPath:      gitlab.Ptr(file),
				NewLine:      gitlab.Ptr(int64(line)),
			},
		},
		gitlab.WithContext(ctx))
	if err != nil {
		return platform.Comment{}, fmt.Errorf("failed to create discussion on %s:%d: %w", file, line, err)
	}

	if len(discussion.Notes) == 0 {
		return platform.Comment{}, fmt.Errorf("discussion %s created without notes", discussion.ID)
	}
	return noteToComment(discussion.ID, discussion.Notes[0]), nil
}

// Reply appends a note to an existing discussion.
func (h *Host) Reply(ctx context.Context, threadID, body string) (platform.Comment, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return platform.Comment{}, err
	}

	note, _, err := h.client.Discussions.AddMergeRequestDiscussionNote(
		h.projectID, int64(h.mrIID), threadID,
		&gitlab.AddMergeRequestDiscussionNoteOptions{Body: gitlab.Ptr(body)},
		gitlab.WithContext(ctx))
	if err != nil {
		return platform.Comment{}, fmt.Errorf("failed to reply to thread %s: %w", threadID, err)
	}

	return noteToComment(threadID, note), nil
}

// ResolveThread marks a discussion resolved.
func (h *Host) ResolveThread(ctx context.Context, threadID string) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	_, _, err := h.client.Discussions.ResolveMergeRequestDiscussion(
		h.projectID, int64(h.mrIID), threadID,
		&gitlab.ResolveMergeRequestDiscussionOptions{Resolved: gitlab.Ptr(true)},
		gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to resolve thread %s: %w", threadID, err)
	}
	return nil
}

// GetComment fetches one note. The returned comment has no thread id; the
// callers that need it already know it.
func (h *Host) GetComment(ctx context.Context, commentID string) (platform.Comment, error) {
	noteID, err := strconv.Atoi(commentID)
	if err != nil {
		return platform.Comment{}, fmt.Errorf("invalid comment id %q: %w", commentID, err)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return platform.Comment{}, err
	}

	note, _, err := h.client.Notes.GetMergeRequestNote(h.projectID, int64(h.mrIID), int64(noteID), gitlab.WithContext(ctx))
	if err != nil {
		return platform.Comment{}, fmt.Errorf("failed to fetch comment %s: %w", commentID, err)
	}

	return noteToComment("", note), nil
}

// UpdateComment replaces a note body.
func (h *Host) UpdateComment(ctx context.Context, commentID, body string) error {
	noteID, err := strconv.Atoi(commentID)
	if err != nil {
		return fmt.Errorf("invalid comment id %q: %w", commentID, err)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	_, _, err = h.client.Notes.UpdateMergeRequestNote(
		h.projectID, int64(h.mrIID), int64(noteID),
		&gitlab.UpdateMergeRequestNoteOptions{Body: gitlab.Ptr(body)},
		gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to update comment %s: %w", commentID, err)
	}
	return nil
}

// RequestReviewers adds the named users as reviewers on the MR.
func (h *Host) RequestReviewers(ctx context.Context, usernames []string) error {
	var reviewerIDs []int64

	for _, username := range usernames {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}

		users, _, err := h.client.Users.ListUsers(
			&gitlab.ListUsersOptions{Username: gitlab.Ptr(username)},
			gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("failed to look up reviewer %s: %w", username, err)
		}
		if len(users) == 0 {
			log.Warn().Str("username", username).Msg("Reviewer not found, skipping")
			continue
		}
		reviewerIDs = append(reviewerIDs, users[0].ID)
	}

	if len(reviewerIDs) == 0 {
		return fmt.Errorf("none of the configured reviewers could be resolved")
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	_, _, err := h.client.MergeRequests.UpdateMergeRequest(
		h.projectID, int64(h.mrIID),
		&gitlab.UpdateMergeRequestOptions{ReviewerIDs: &reviewerIDs},
		gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to request reviewers: %w", err)
	}
	return nil
}

func (h *Host) ensureDiffRefs(ctx context.Context) (*gitlab.MergeRequestDiffRefs, error) {
	if h.diffRefs != nil {
		return h.diffRefs, nil
	}
	if _, err := h.HeadRevision(ctx); err != nil {
		return nil, err
	}
	if h.diffRefs == nil {
		return nil, fmt.Errorf("merge request has no diff refs")
	}
	return h.diffRefs, nil
}
