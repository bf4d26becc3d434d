package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a thin JSON client for the server API.
type client struct {
	base string
	http *http.Client
}

func newClient(app *App) *client {
	return &client{
		base: clientAddr(app),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

type apiError struct {
	Status     int
	Code       string
	Message    string
	WorkflowID string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// do issues a request and decodes the JSON response into out (if non-nil).
// Non-2xx responses become *apiError.
func (c *client) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		reqBody = buf
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		var parsed struct {
			Error      string `json:"error"`
			Code       string `json:"code"`
			WorkflowID string `json:"workflow_id"`
		}
		if json.Unmarshal(data, &parsed) == nil {
			apiErr.Message = parsed.Error
			apiErr.Code = parsed.Code
			apiErr.WorkflowID = parsed.WorkflowID
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
