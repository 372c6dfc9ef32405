package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type Client struct {
	baseURL string
	actor   string
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, actor: actorID}
}

func (c *Client) Get(path string, out interface{}) error {
	req, _ := http.NewRequest("GET", c.baseURL+path, nil)
	return c.do(req, out)
}

func (c *Client) Post(path string, body interface{}, out interface{}) error {
	return c.PostWithHeaders(path, body, out, nil)
}

func (c *Client) PostWithHeaders(path string, body interface{}, out interface{}, headers map[string]string) error {
	var reqBody io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewReader(b)
	}
	req, _ := http.NewRequest("POST", c.baseURL+path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c *Client) Delete(path string, out interface{}) error {
	req, _ := http.NewRequest("DELETE", c.baseURL+path, nil)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.actor != "" {
		req.Header.Set("X-Actor-ID", c.actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return parseResponse(resp, out)
}

func parseResponse(resp *http.Response, out interface{}) error {
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		json.Unmarshal(b, &errResp)
		return fmt.Errorf("%s: %s", errResp.Code, errResp.Message)
	}
	if out != nil {
		return json.Unmarshal(b, out)
	}
	return nil
}
