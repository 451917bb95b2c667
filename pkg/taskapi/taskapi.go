// Package taskapi is a client for the task REST API of a label store
package taskapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/xmlconv"
	"github.com/cyclopcam/www"
)

var ErrNoTask = errors.New("no task found")
var ErrMultipleTasks = errors.New("found multiple tasks")
var ErrNotLoggedIn = errors.New("not logged in")

// APIPrefix is the path of the API, relative to the server URL
const APIPrefix = "/api/v1"

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Key string `json:"key"`
}

type TaskSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	Subset    string `json:"subset"`
	Size      int    `json:"size"`
	ProjectID int64  `json:"project_id"`
}

type TaskList struct {
	Count   int           `json:"count"`
	Results []TaskSummary `json:"results"`
}

type FrameMeta struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type DataMeta struct {
	StartFrame  int         `json:"start_frame"`
	StopFrame   int         `json:"stop_frame"`
	FrameFilter string      `json:"frame_filter"`
	Frames      []FrameMeta `json:"frames"`
}

type Client struct {
	serverURL string
	key       string
}

// NewClient creates a client for the server at 'serverURL', eg "http://localhost:8080"
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
	}
}

// Key returns the token obtained by Login
func (c *Client) Key() string {
	return c.key
}

// SetKey sets the token directly, instead of calling Login
func (c *Client) SetKey(key string) {
	c.key = key
}

func (c *Client) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.serverURL+APIPrefix+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Token "+c.key)
	}
	return req, nil
}

func (c *Client) Login(username, email, password string) error {
	b, err := json.Marshal(&LoginRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return err
	}
	req, err := c.newRequest("POST", "/auth/login", bytes.NewReader(b))
	if err != nil {
		return err
	}
	resp := LoginResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if resp.Key == "" {
		return errors.New("login failed: no key in response")
	}
	c.key = resp.Key
	return nil
}

func (c *Client) getJSON(path string, output any) error {
	if c.key == "" {
		return ErrNotLoggedIn
	}
	req, err := c.newRequest("GET", path, nil)
	if err != nil {
		return err
	}
	return www.FetchJSON(req, output)
}

// FindTasks returns all tasks with the given name
func (c *Client) FindTasks(name string) ([]TaskSummary, error) {
	list := TaskList{}
	if err := c.getJSON("/tasks?name="+url.QueryEscape(name), &list); err != nil {
		return nil, fmt.Errorf("task retrieval failed: %w", err)
	}
	return list.Results, nil
}

// FindTask returns the single task with the given name
func (c *Client) FindTask(name string) (*TaskSummary, error) {
	tasks, err := c.FindTasks(name)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: '%v'", ErrNoTask, name)
	} else if len(tasks) > 1 {
		return nil, fmt.Errorf("%w: %v tasks named '%v'", ErrMultipleTasks, len(tasks), name)
	}
	return &tasks[0], nil
}

func (c *Client) DataMeta(taskID int64) (*DataMeta, error) {
	meta := DataMeta{}
	if err := c.getJSON(fmt.Sprintf("/tasks/%v/data/meta", taskID), &meta); err != nil {
		return nil, fmt.Errorf("task metadata retrieval failed: %w", err)
	}
	return &meta, nil
}

// FrameNames returns the pure name (no directory or extension) of every frame of the task, in frame order
func (c *Client) FrameNames(taskID int64) ([]string, error) {
	meta, err := c.DataMeta(taskID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(meta.Frames))
	for _, f := range meta.Frames {
		names = append(names, xmlconv.PureName(f.Name))
	}
	return names, nil
}
