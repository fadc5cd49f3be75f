package solver

// Task type identifiers understood by the solver service.
const (
	TaskTypeCloudflare = "CloudflareTask"
	TaskTypeTurnstile  = "TurnstileTask"
)

// LinkSocksRef points a task at the relay credentials the solver service
// should tunnel its browser traffic through.
type LinkSocksRef struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// CloudflareTask asks the service to clear a Cloudflare challenge page.
type CloudflareTask struct {
	Type       string        `json:"type"`
	WebsiteURL string        `json:"websiteURL"`
	Proxy      string        `json:"proxy,omitempty"`
	LinkSocks  *LinkSocksRef `json:"linksocks,omitempty"`
}

// TurnstileTask asks the service to produce a Turnstile token.
type TurnstileTask struct {
	Type       string        `json:"type"`
	WebsiteURL string        `json:"websiteURL"`
	WebsiteKey string        `json:"websiteKey"`
	Proxy      string        `json:"proxy,omitempty"`
	LinkSocks  *LinkSocksRef `json:"linksocks,omitempty"`
}

type createTaskRequest struct {
	APIKey string `json:"apiKey"`
	Task   any    `json:"task"`
}

type createTaskResponse struct {
	TaskID           string `json:"taskId"`
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
}

type taskResultRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

// TaskResult is the terminal state of a solver task. Result nests the
// solution payload; its exact shape varies by task type.
type TaskResult struct {
	Status  string         `json:"status"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result"`
	Error   string         `json:"error"`
}

// solution returns the innermost result object. Some service versions
// nest the payload one level deeper under "result".
func (r *TaskResult) solution() map[string]any {
	if r == nil || r.Result == nil {
		return nil
	}
	if inner, ok := r.Result["result"].(map[string]any); ok {
		return inner
	}
	return r.Result
}

// ChallengeResult is what a solved Cloudflare challenge yields: the
// clearance cookies and the User-Agent they are bound to.
type ChallengeResult struct {
	Cookies   map[string]string
	UserAgent string
}

// Clearance is a cached challenge solution for one host+proxy pair.
type Clearance struct {
	Cookies   map[string]string
	UserAgent string
}

// LinkSocksCredentials are the relay credentials provisioned for an API
// key: the provider connects with Token, the solver service connects with
// ConnectorToken.
type LinkSocksCredentials struct {
	URL            string
	Token          string
	ConnectorToken string
}

type linkSocksResponse struct {
	URL              string `json:"url"`
	Token            string `json:"token"`
	ConnectorToken   string `json:"connectorToken"`
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
}
