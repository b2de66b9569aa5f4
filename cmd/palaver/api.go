package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"palaver/internal/models"
)

// apiClient talks to the request/response path. Everything durable goes
// through here first; the live connection only carries pointers.
type apiClient struct {
	base  string
	token string
	httpc *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		httpc: &http.Client{},
	}
}

func (a *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, a.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s", method, path, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *apiClient) channels() ([]models.Channel, error) {
	var out []models.Channel
	err := a.do(http.MethodGet, "/api/channels", nil, &out)
	return out, err
}

func (a *apiClient) messages(channelID int64) ([]models.Message, error) {
	var out []models.Message
	err := a.do(http.MethodGet, fmt.Sprintf("/api/messages?channel=%d", channelID), nil, &out)
	return out, err
}

func (a *apiClient) postMessage(channelID int64, content string) (models.Message, error) {
	var out models.Message
	err := a.do(http.MethodPost, "/api/messages", map[string]any{
		"channelId": channelID,
		"content":   content,
	}, &out)
	return out, err
}

func (a *apiClient) createChannel(name string) (models.Channel, error) {
	var out models.Channel
	err := a.do(http.MethodPost, "/api/channels", map[string]any{"name": name}, &out)
	return out, err
}

func (a *apiClient) deleteChannel(channelID int64) error {
	return a.do(http.MethodDelete, fmt.Sprintf("/api/channels/%d", channelID), nil, nil)
}
