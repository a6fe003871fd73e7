package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/slideforge/slideforge/internal/app/tasks"
	"github.com/slideforge/slideforge/internal/domain"
)

// apiClient talks to a running backend.
type apiClient struct {
	http *resty.Client
	base string
}

type apiError struct {
	Detail string `json:"detail"`
}

func newAPIClient(base string) *apiClient {
	base = strings.TrimRight(base, "/")
	return &apiClient{
		http: resty.New().SetBaseURL(base).SetTimeout(30 * time.Second),
		base: base,
	}
}

func (c *apiClient) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("backend unreachable at %s: %w", c.base, err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Detail != "" {
		return fmt.Errorf("%s (HTTP %d)", e.Detail, resp.StatusCode())
	}
	return fmt.Errorf("HTTP %d", resp.StatusCode())
}

func (c *apiClient) Create(ctx context.Context, req tasks.CreateRequest) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).SetError(&apiError{}).
		Post("/api/task/create")
	if err := c.check(resp, err); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *apiClient) Get(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	resp, err := c.http.R().SetContext(ctx).SetResult(&task).SetError(&apiError{}).
		SetPathParam("id", id).Get("/api/task/{id}")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *apiClient) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	var list []*domain.Task
	r := c.http.R().SetContext(ctx).SetResult(&list).SetError(&apiError{})
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := r.Get("/api/tasks")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *apiClient) Delete(ctx context.Context, id string) error {
	resp, err := c.http.R().SetContext(ctx).SetError(&apiError{}).
		SetPathParam("id", id).Delete("/api/task/{id}")
	return c.check(resp, err)
}

// Download writes the generated file for sample (or the task's primary
// file when sample < 0) to w.
func (c *apiClient) Download(ctx context.Context, id string, sample int, w io.Writer) error {
	r := c.http.R().SetContext(ctx).SetDoNotParseResponse(true).SetPathParam("id", id)
	if sample >= 0 {
		r.SetQueryParam("sample", strconv.Itoa(sample))
	}
	resp, err := r.Get("/api/download/{id}")
	if err != nil {
		return fmt.Errorf("backend unreachable at %s: %w", c.base, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 4<<10))
		return fmt.Errorf("download failed (HTTP %d): %s", resp.StatusCode(), strings.TrimSpace(string(msg)))
	}
	_, err = io.Copy(w, body)
	return err
}

// Watch subscribes to a task's notifications and calls fn for each until
// a terminal notification arrives or ctx ends. The task is re-read after
// subscribing so a run that finished first still terminates the watch.
func (c *apiClient) Watch(ctx context.Context, id string, fn func(domain.Notification)) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "task_id": id}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch %s: %w", id, err)
		}
		n, err := domain.DecodeNotification(data)
		if err != nil {
			continue
		}
		if _, ok := n.(domain.SubscribedNotification); ok {
			task, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			if task.Status.IsTerminal() {
				fn(finalNotification(task))
				return nil
			}
			continue
		}
		if n.Task() != id {
			continue
		}
		fn(n)
		if domain.IsTerminal(n) {
			return nil
		}
	}
}

// finalNotification describes an already finished task the way the live
// stream would have.
func finalNotification(task *domain.Task) domain.Notification {
	if task.Status == domain.StatusCompleted {
		return domain.CompleteNotification{TaskID: task.ID, Progress: task.Progress, Artifact: task.Artifact}
	}
	return domain.ErrorNotification{TaskID: task.ID, Error: task.Error}
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
