package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mayor78/mtbm-attendance-sub000/common"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// Client submits presence records to the server API. The queue item id is
// sent as the idempotency key, so the server can collapse retried requests.
type Client struct {
	url        string
	httpClient *http.Client
	logger     models.Logger
}

func NewClient(url string, logger models.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: common.DefaultRpcWaitTime},
		logger:     logger,
	}
}

type submitRequest struct {
	SubmissionId string    `json:"submissionId"`
	SessionId    string    `json:"sessionId"`
	StudentId    string    `json:"studentId"`
	Code         string    `json:"code"`
	Timestamp    time.Time `json:"ts"`
}

func (c *Client) Submit(ctx context.Context, item *models.QueueItem) error {
	reqBody, err := json.Marshal(submitRequest{
		SubmissionId: item.Id.String(),
		SessionId:    item.Payload.SessionId,
		StudentId:    item.Payload.StudentId,
		Code:         item.Payload.Code,
		Timestamp:    item.Payload.Timestamp,
	})
	if err != nil {
		return models.NewTerminalError("could not encode submission", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/v1/presence", bytes.NewBuffer(reqBody))
	if err != nil {
		return models.NewTerminalError("could not create submission request", err)
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewTransientError("server unreachable", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// The server keys conflicts on the submission id, so this really is
		// our own retried item and the event already landed.
		return models.NewConflictError(fmt.Sprintf("submission %s already recorded", item.Id))
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.NewTransientError("server throttling submissions", nil)
	case resp.StatusCode >= 500:
		return models.NewTransientError(fmt.Sprintf("server error %d", resp.StatusCode), nil)
	default:
		// 4xx: the submission itself is invalid (expired session, bad code).
		// Retrying cannot fix it.
		c.logger.Errorf("submit: rejected %s: %d, %s", item.Id, resp.StatusCode, respBody)
		return models.NewTerminalError(fmt.Sprintf("submission rejected: %d, %s", resp.StatusCode, respBody), nil)
	}
}
