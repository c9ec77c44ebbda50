// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitlocal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iceman4177/CalFit-sub000/fitsync"
)

// HTTPRemote is a RemoteStore backed by the fitsync REST API.
// The server takes the user from the bearer token; userID arguments are only used for logging.
type HTTPRemote struct {
	BaseURL string
	Token   func(ctx context.Context) (string, error) // returns JWT
	HTTP    *http.Client
}

// NewHTTPRemote creates a client for the server at baseURL
func NewHTTPRemote(baseURL string, tok func(ctx context.Context) (string, error)) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body any, out any) error {
	op := method + " " + path
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if r.Token != nil {
		token, err := r.Token(ctx)
		if err != nil {
			return &RemoteError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnauthorized, err)}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.HTTP.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RemoteError{Op: op, Err: fmt.Errorf("%w: %v", ErrNetworkFailure, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &RemoteError{Op: op, Status: resp.StatusCode, Err: classifyStatus(resp.StatusCode), Detail: readErrorDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServerError
	default:
		return ErrRejected
	}
}

func readErrorDetail(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var er fitsync.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Message != "" {
		return er.Message
	}
	return strings.TrimSpace(string(data))
}

func rangeQuery(fromDay, toDay string) string {
	q := url.Values{}
	q.Set("from", fromDay)
	q.Set("to", toDay)
	return "?" + q.Encode()
}

func (r *HTTPRemote) UpsertWorkout(ctx context.Context, _ string, row fitsync.WorkoutRow) error {
	return r.do(ctx, http.MethodPut, fitsync.RouteWorkouts, row, nil)
}

func (r *HTTPRemote) DeleteWorkout(ctx context.Context, _ string, clientID string) error {
	return r.do(ctx, http.MethodDelete, fitsync.RouteWorkouts+"/"+url.PathEscape(clientID), nil, nil)
}

func (r *HTTPRemote) ListWorkouts(ctx context.Context, _ string, fromDay, toDay string) ([]fitsync.WorkoutRow, error) {
	var resp fitsync.WorkoutListResponse
	if err := r.do(ctx, http.MethodGet, fitsync.RouteWorkouts+rangeQuery(fromDay, toDay), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workouts, nil
}

func (r *HTTPRemote) UpsertMeal(ctx context.Context, _ string, row fitsync.MealRow) error {
	return r.do(ctx, http.MethodPut, fitsync.RouteMeals, row, nil)
}

func (r *HTTPRemote) DeleteMeal(ctx context.Context, _ string, clientID string) error {
	return r.do(ctx, http.MethodDelete, fitsync.RouteMeals+"/"+url.PathEscape(clientID), nil, nil)
}

func (r *HTTPRemote) ListMeals(ctx context.Context, _ string, fromDay, toDay string) ([]fitsync.MealRow, error) {
	var resp fitsync.MealListResponse
	if err := r.do(ctx, http.MethodGet, fitsync.RouteMeals+rangeQuery(fromDay, toDay), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Meals, nil
}

func (r *HTTPRemote) UpsertDailyMetric(ctx context.Context, _ string, row fitsync.DailyMetricRow) error {
	return r.do(ctx, http.MethodPut, fitsync.RouteDailyMetrics, row, nil)
}

func (r *HTTPRemote) GetDailyMetric(ctx context.Context, _ string, day string) (*fitsync.DailyMetricRow, error) {
	var row fitsync.DailyMetricRow
	err := r.do(ctx, http.MethodGet, fitsync.RouteDailyMetrics+"/"+url.PathEscape(day), nil, &row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *HTTPRemote) ListDailyMetrics(ctx context.Context, _ string, fromDay, toDay string) ([]fitsync.DailyMetricRow, error) {
	var resp fitsync.DailyMetricListResponse
	if err := r.do(ctx, http.MethodGet, fitsync.RouteDailyMetrics+rangeQuery(fromDay, toDay), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Metrics, nil
}
