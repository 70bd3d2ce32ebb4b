package triage

import (
	"context"
	"slices"

	"github.com/linnemanlabs/go-core/log"
)

// contextStage builds the compact Context view from the ticket, its oldest
// comments and its attachment metadata.
type contextStage struct {
	comments    CommentStore
	attachments AttachmentStore
	logger      log.Logger
}

func (s *contextStage) Name() Stage { return StageContext }

func (s *contextStage) Run(ctx context.Context, rec Record) (Record, error) {
	t := rec.Ticket
	if t.ID == "" {
		return rec, stageError(StageContext, ErrMissingTicket)
	}

	c := &Context{
		Title:       t.Title,
		Body:        firstNonEmpty(t.Body, t.Description),
		Tags:        slices.Clone(t.Tags),
		ProductArea: firstNonEmpty(t.ProductArea, t.Category),
		Comments:    []CommentView{},
		Attachments: []AttachmentView{},
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}

	// Comment and attachment lookups are best-effort.
	comments, err := s.comments.ListComments(ctx, t.ID, maxContextComments)
	if err != nil {
		s.logger.Warn(ctx, "comment lookup failed, continuing without comments", "error", err)
	} else {
		slices.SortStableFunc(comments, func(a, b Comment) int { return a.CreatedAt.Compare(b.CreatedAt) })
		for _, cm := range comments[:min(len(comments), maxContextComments)] {
			c.Comments = append(c.Comments, CommentView{Text: cm.Text, CreatedAt: cm.CreatedAt})
		}
	}

	attachments, err := s.attachments.ListAttachments(ctx, t.ID, maxContextAttachments)
	if err != nil {
		s.logger.Warn(ctx, "attachment lookup failed, continuing without attachments", "error", err)
	} else {
		for _, a := range attachments[:min(len(attachments), maxContextAttachments)] {
			c.Attachments = append(c.Attachments, AttachmentView{Filename: a.Filename, Size: a.Size})
		}
	}

	rec.Context = c
	return rec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
