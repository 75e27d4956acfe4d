package ashby

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/model"
)

const feedbackListEndpoint = "applicationFeedback.list"

type FeedbackSubmissions []*FeedbackSubmission

type FeedbackSubmission struct {
	ID               string         `mapstructure:"id"`
	ApplicationID    string         `mapstructure:"applicationId"`
	InterviewEventID string         `mapstructure:"interviewEventId"`
	InterviewID      string         `mapstructure:"interviewId"`
	SubmittedAt      string         `mapstructure:"submittedAt"`
	SubmittedValues  map[string]any `mapstructure:"submittedValues"`
	SubmittedByUser  *struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"submittedByUser"`
}

// InterviewerID is empty when the submitter is unknown.
func (f *FeedbackSubmission) InterviewerID() string {
	if f.SubmittedByUser == nil {
		return ""
	}
	return f.SubmittedByUser.ID
}

func (f *FeedbackSubmission) ToModel() (model.Feedback, error) {
	submitted, err := time.Parse(time.RFC3339Nano, f.SubmittedAt)
	if err != nil {
		return model.Feedback{}, errors.Wrapf(err, "parsing submittedAt of feedback %s", f.ID)
	}

	values := f.SubmittedValues
	if values == nil {
		values = map[string]any{}
	}

	return model.Feedback{
		ID:            f.ID,
		ApplicationID: f.ApplicationID,
		EventID:       f.InterviewEventID,
		InterviewerID: f.InterviewerID(),
		InterviewID:   f.InterviewID,
		SubmittedAt:   submitted.UTC(),
		Values:        values,
	}, nil
}

// FetchFeedback returns every feedback submission of an application.
func (c *Client) FetchFeedback(ctx context.Context, applicationID string) (FeedbackSubmissions, error) {
	items, err := c.ListItems(ctx, feedbackListEndpoint, map[string]any{"applicationId": applicationID})
	if err != nil {
		return nil, err
	}

	var submissions FeedbackSubmissions
	if err := mapstructure.Decode(items, &submissions); err != nil {
		return nil, errors.NewExternalError(err, false, "decoding feedback submissions")
	}

	c.logger.Debug("application feedback fetched",
		zap.String("application_id", applicationID),
		zap.Int("count", len(submissions)),
	)

	return submissions, nil
}
