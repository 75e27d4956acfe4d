package ashby

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
)

type application struct {
	ID  string `json:"id"`
	Job *struct {
		ID string `json:"id"`
	} `json:"job"`
}

// ApplicationJobID resolves the job an application belongs to.
func (c *Client) ApplicationJobID(ctx context.Context, applicationID string) (string, error) {
	var app application
	if err := c.postResult(ctx, "application.info", map[string]any{"applicationId": applicationID}, &app); err != nil {
		return "", err
	}

	if app.Job == nil || app.Job.ID == "" {
		return "", errors.NewNotFoundError("job of application %s", applicationID)
	}

	return app.Job.ID, nil
}

// ChangeStage moves an application to another interview stage.
func (c *Client) ChangeStage(ctx context.Context, applicationID, stageID string) error {
	err := c.postResult(ctx, "application.changeStage", map[string]any{
		"applicationId":    applicationID,
		"interviewStageId": stageID,
	}, nil)
	if err != nil {
		return err
	}

	c.logger.Info("candidate advanced",
		zap.String("application_id", applicationID),
		zap.String("target_stage_id", stageID),
	)

	return nil
}

// Archive archives an application with the given archive reason. A non-empty
// templateID also sends the candidate the rejection email built from it.
func (c *Client) Archive(ctx context.Context, applicationID, reasonID, templateID string) error {
	body := map[string]any{
		"applicationId":   applicationID,
		"archiveReasonId": reasonID,
	}
	if templateID != "" {
		body["archiveEmail"] = map[string]any{"communicationTemplateId": templateID}
	}

	if err := c.postResult(ctx, "application.changeStage", body, nil); err != nil {
		return err
	}

	c.logger.Info("candidate archived",
		zap.String("application_id", applicationID),
		zap.String("archive_reason_id", reasonID),
		zap.Bool("sent_email", templateID != ""),
	)

	return nil
}
