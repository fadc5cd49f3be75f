package solver

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/cloudflyer-project/cloudflyer-go/internal/logging"
)

// CreateTask files a task with the solver service and returns its ID.
func (c *Client) CreateTask(ctx context.Context, task any) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, apiRequestTimeout)
	defer cancel()

	var resp createTaskResponse
	if err := c.postJSON(reqCtx, "/api/createTask", createTaskRequest{APIKey: c.apiKey, Task: task}, &resp); err != nil {
		return "", err
	}
	if resp.ErrorID != 0 {
		return "", NewChallengeError("task rejected: " + resp.ErrorDescription)
	}
	if resp.TaskID == "" {
		return "", NewChallengeError("task rejected: no taskId returned")
	}
	return resp.TaskID, nil
}

// WaitTaskResult blocks until the task reaches a terminal state or the
// wait budget runs out. Long-polling holds one request open per round;
// interval polling sleeps between rounds. "processing" and "timeout"
// rounds keep waiting; a terminal failure becomes a ChallengeError.
func (c *Client) WaitTaskResult(ctx context.Context, taskID string) (*TaskResult, error) {
	deadline := time.Now().Add(c.waitBudget)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, NewTimeoutError("wait cancelled: " + ctx.Err().Error())
		default:
		}

		endpoint := "/api/waitTaskResult"
		reqTimeout := time.Until(deadline) + longPollSlack
		if reqTimeout > longPollMax {
			reqTimeout = longPollMax
		}
		if c.usePolling {
			endpoint = "/api/getTaskResult"
			reqTimeout = apiRequestTimeout
		}

		reqCtx, cancel := context.WithTimeout(ctx, reqTimeout)
		var result TaskResult
		err := c.postJSON(reqCtx, endpoint, taskResultRequest{APIKey: c.apiKey, TaskID: taskID}, &result)
		cancel()
		if err != nil {
			c.logger.Debug("task poll failed", logging.KeyTaskID, taskID, logging.KeyError, err)
			c.pollPause(ctx)
			continue
		}

		switch result.Status {
		case "processing":
			c.pollPause(ctx)
			continue
		case "timeout":
			// The service gave up holding the poll open; ask again.
			continue
		}

		success := result.Success
		if !success {
			success = (result.Status == "completed" || result.Status == "ready") && result.Error == ""
		}
		if !success {
			msg := result.Error
			if msg == "" {
				if inner, ok := result.Result["error"].(string); ok {
					msg = inner
				} else {
					msg = "unknown error"
				}
			}
			return nil, NewChallengeError("task failed: " + msg)
		}
		return &result, nil
	}

	return nil, NewTimeoutError("task timed out")
}

// pollPause sleeps one polling interval, or returns early when ctx ends.
// Long-polling mode does not pause; the held request is the pacing.
func (c *Client) pollPause(ctx context.Context) {
	if !c.usePolling {
		return
	}
	t := time.NewTimer(c.pollingInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// buildCloudflareTask attaches either the relay credentials or the static
// task proxy.
func (c *Client) buildCloudflareTask(ctx context.Context, websiteURL string) (*CloudflareTask, error) {
	task := &CloudflareTask{Type: TaskTypeCloudflare, WebsiteURL: websiteURL}
	if c.linksocks != nil {
		creds, err := c.linksocks.connect(ctx)
		if err != nil {
			return nil, err
		}
		task.LinkSocks = &LinkSocksRef{URL: creds.URL, Token: creds.ConnectorToken}
		return task, nil
	}
	task.Proxy = normalizeProxyString(c.taskProxy)
	return task, nil
}

// SolveCloudflare clears a Cloudflare challenge for websiteURL and
// returns the clearance cookies with their User-Agent. No follow-up
// request to the target is made.
func (c *Client) SolveCloudflare(websiteURL string) (*ChallengeResult, error) {
	return c.SolveCloudflareContext(context.Background(), websiteURL)
}

// SolveCloudflareContext is SolveCloudflare under a context.
func (c *Client) SolveCloudflareContext(ctx context.Context, websiteURL string) (*ChallengeResult, error) {
	start := time.Now()

	task, err := c.buildCloudflareTask(ctx, websiteURL)
	if err != nil {
		return nil, err
	}
	taskID, err := c.CreateTask(ctx, task)
	if err != nil {
		c.recordTask("cloudflare", err, start)
		return nil, err
	}
	c.logger.Info("challenge task created",
		logging.KeyTaskID, taskID,
		logging.KeyURL, websiteURL)

	result, err := c.WaitTaskResult(ctx, taskID)
	c.recordTask("cloudflare", err, start)
	if err != nil {
		return nil, err
	}

	challenge := c.extractChallenge(websiteURL, result)
	// The clearance is bound to the solved User-Agent; rebuild the
	// session so the fingerprint matches it.
	if err := c.resetSession(); err != nil {
		c.logger.Warn("session rebuild failed", logging.KeyError, err)
	}

	c.logger.Info("challenge solved",
		logging.KeyTaskID, taskID,
		logging.KeyURL, websiteURL,
		logging.KeyDuration, time.Since(start))
	return challenge, nil
}

// SolveTurnstile produces a Turnstile token for websiteURL and sitekey.
func (c *Client) SolveTurnstile(websiteURL, sitekey string) (string, error) {
	return c.SolveTurnstileContext(context.Background(), websiteURL, sitekey)
}

// SolveTurnstileContext is SolveTurnstile under a context.
func (c *Client) SolveTurnstileContext(ctx context.Context, websiteURL, sitekey string) (string, error) {
	start := time.Now()

	task := &TurnstileTask{
		Type:       TaskTypeTurnstile,
		WebsiteURL: websiteURL,
		WebsiteKey: sitekey,
		Proxy:      normalizeProxyString(c.taskProxy),
	}
	taskID, err := c.CreateTask(ctx, task)
	if err != nil {
		c.recordTask("turnstile", err, start)
		return "", err
	}
	c.logger.Info("turnstile task created",
		logging.KeyTaskID, taskID,
		logging.KeyURL, websiteURL)

	result, err := c.WaitTaskResult(ctx, taskID)
	c.recordTask("turnstile", err, start)
	if err != nil {
		return "", err
	}

	token, ok := result.solution()["token"].(string)
	if !ok || token == "" {
		return "", NewChallengeError("turnstile task returned no token")
	}
	return token, nil
}

// extractChallenge pulls cookies and the User-Agent out of a completed
// task, updates the cookie store and pinned UA, and caches the clearance.
func (c *Client) extractChallenge(targetURL string, result *TaskResult) *ChallengeResult {
	challenge := &ChallengeResult{Cookies: make(map[string]string)}
	solution := result.solution()
	if solution == nil {
		return challenge
	}

	if cookies, ok := solution["cookies"].(map[string]any); ok {
		for k, v := range cookies {
			if s, ok := v.(string); ok {
				challenge.Cookies[k] = s
			}
		}
		if u, err := url.Parse(targetURL); err == nil {
			c.storeCookies(u.Hostname(), challenge.Cookies)
		}
	}

	if ua, ok := solution["userAgent"].(string); ok && ua != "" {
		challenge.UserAgent = ua
	} else if headers, ok := solution["headers"].(map[string]any); ok {
		if ua, ok := headers["User-Agent"].(string); ok {
			challenge.UserAgent = ua
		}
	}
	if challenge.UserAgent != "" {
		c.userAgent = challenge.UserAgent
	}

	c.saveClearance(targetURL, challenge.Cookies, challenge.UserAgent)
	return challenge
}

// recordTask feeds the solver task metric with a status derived from the
// outcome.
func (c *Client) recordTask(taskType string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "completed"
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			status = "timeout"
		} else {
			status = "failed"
		}
	}
	c.metrics.RecordSolverTask(taskType, status, time.Since(start).Seconds())
}
