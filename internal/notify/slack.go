package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/logger"
)

const slackAPIURL = "https://slack.com/api/chat.postMessage"

type Slack struct {
	token   string
	channel string
	logger  *zap.Logger

	HTTPClient *http.Client
	APIURL     string
}

func NewSlack(token, channel string, log *zap.Logger) *Slack {
	return &Slack{
		token:      token,
		channel:    channel,
		logger:     logger.OrNop(log),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		APIURL:     slackAPIURL,
	}
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Slack) NotifyRejection(ctx context.Context, applicationID string, detail json.RawMessage) error {
	body, err := json.Marshal(map[string]string{
		"channel": s.channel,
		"text":    Message(applicationID, detail),
	})
	if err != nil {
		return errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, bytes.NewReader(body))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return errors.NewExternalError(err, true, "posting to slack")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewExternalError(err, true, "reading slack response")
	}

	if resp.StatusCode != http.StatusOK {
		return errors.NewExternalError(errors.Newf("status %d", resp.StatusCode), resp.StatusCode >= 500, "posting to slack")
	}

	var out slackResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return errors.NewExternalError(err, false, "decoding slack response")
	}
	if !out.OK {
		return errors.NewExternalError(errors.Newf("slack error: %s", out.Error), false, "posting to slack")
	}

	s.logger.Debug("rejection notice sent",
		zap.String(logger.FieldApplicationID, applicationID),
		zap.String("channel", s.channel),
	)

	return nil
}
