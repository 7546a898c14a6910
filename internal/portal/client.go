// Package portal is the client of the portal REST backend: timelines,
// stages and proposals. Operations are resolved through the OpenAPI index,
// guarded by a circuit breaker and retried only when idempotent.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/config"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/openapi"
	"github.com/pitabwire/hibah/model"
)

// Operation ids the client calls.
const (
	OpGetTimeline        = "getTimeline"
	OpListTimelineEvents = "listTimelineEvents"
	OpGetTimelineEvent   = "getTimelineEvent"
	OpListStageProposals = "listStageProposals"
	OpCreateProposal     = "createProposal"
	OpUpdateProposal     = "updateProposal"
)

// Operations lists every operation id the client needs indexed.
var Operations = []string{
	OpGetTimeline,
	OpListTimelineEvents,
	OpGetTimelineEvent,
	OpListStageProposals,
	OpCreateProposal,
	OpUpdateProposal,
}

// envelope is the backend response wrapper. A missing success flag on a 2xx
// response counts as success.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the portal backend on behalf of a session.
type Client struct {
	index    *openapi.Index
	http     *http.Client
	breaker  *CircuitBreaker
	retry    config.RetryConfig
	maxBytes int64
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewClient creates a portal client. metrics may be nil.
func NewClient(idx *openapi.Index, cfg config.PortalConfig, metrics *observability.Metrics, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := NewCircuitBreaker(cfg.CircuitBreaker)
	breaker.OnStateChange(func(s BreakerState) {
		metrics.SetBackendCircuitBreakerState(float64(s))
		logger.Warn("portal circuit breaker state changed", zap.Stringer("state", s))
	})

	return &Client{
		index: idx,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker:  breaker,
		retry:    cfg.Retry,
		maxBytes: maxBytes,
		metrics:  metrics,
		logger:   logger,
	}
}

// Breaker exposes the circuit breaker for readiness reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// HealthCheck fails while the circuit breaker is open.
func (c *Client) HealthCheck(context.Context) error {
	if st := c.breaker.State(); st == BreakerOpen {
		return fmt.Errorf("portal: circuit %s", st)
	}
	return nil
}

// call is one backend request.
type call struct {
	operationID string
	path        map[string]string
	query       map[string]string
	form        *Form
}

// GetTimeline fetches a timeline.
func (c *Client) GetTimeline(ctx context.Context, sess *model.Session, id string) (model.Timeline, error) {
	data, err := c.do(ctx, sess, call{operationID: OpGetTimeline, path: map[string]string{"id": id}})
	if err != nil {
		return model.Timeline{}, err
	}
	return DecodeTimeline(data)
}

// GetTimelineEvent fetches one stage of a timeline.
func (c *Client) GetTimelineEvent(ctx context.Context, sess *model.Session, timelineID, id string) (model.TimelineEvent, error) {
	data, err := c.do(ctx, sess, call{
		operationID: OpGetTimelineEvent,
		path:        map[string]string{"id": id},
		query:       map[string]string{"timeline": timelineID},
	})
	if err != nil {
		return model.TimelineEvent{}, err
	}
	return DecodeTimelineEvent(data)
}

// ListTimelineEvents fetches the stages of a timeline ordered by stepIndex.
// Duplicate stepIndex values are reported as an error.
func (c *Client) ListTimelineEvents(ctx context.Context, sess *model.Session, timelineID string) ([]model.TimelineEvent, error) {
	data, err := c.do(ctx, sess, call{
		operationID: OpListTimelineEvents,
		query:       map[string]string{"timeline": timelineID},
	})
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if !isNull(data) {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("portal: decode timeline events: %w", err)
		}
	}
	events := make([]model.TimelineEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := DecodeTimelineEvent(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	model.SortByStepIndex(events)
	if err := model.ValidateStepOrder(events); err != nil {
		return nil, fmt.Errorf("portal: timeline %s: %w", timelineID, err)
	}
	return events, nil
}

// ListStageProposals fetches the proposals of a stage, decoding their data
// as step.
func (c *Client) ListStageProposals(ctx context.Context, sess *model.Session, stageID string, step model.StepTag) ([]model.Proposal, error) {
	data, err := c.do(ctx, sess, call{
		operationID: OpListStageProposals,
		path:        map[string]string{"stageId": stageID},
	})
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if !isNull(data) {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("portal: decode proposals: %w", err)
		}
	}
	out := make([]model.Proposal, 0, len(raws))
	for _, raw := range raws {
		p, err := DecodeProposal(step, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CreateProposal creates a proposal. The returned proposal is zero when the
// backend acknowledges without echoing the record.
func (c *Client) CreateProposal(ctx context.Context, sess *model.Session, step model.StepTag, form *Form) (model.Proposal, error) {
	data, err := c.do(ctx, sess, call{operationID: OpCreateProposal, form: form})
	if err != nil {
		return model.Proposal{}, err
	}
	return decodeEcho(step, data)
}

// UpdateProposal updates the proposal id in place.
func (c *Client) UpdateProposal(ctx context.Context, sess *model.Session, step model.StepTag, id string, form *Form) (model.Proposal, error) {
	data, err := c.do(ctx, sess, call{
		operationID: OpUpdateProposal,
		path:        map[string]string{"id": id},
		form:        form,
	})
	if err != nil {
		return model.Proposal{}, err
	}
	return decodeEcho(step, data)
}

// decodeEcho decodes the record a write returned. Data stays nil when the
// echo carries no data object, so callers keep what they sent.
func decodeEcho(step model.StepTag, data json.RawMessage) (model.Proposal, error) {
	t := bytes.TrimSpace(data)
	if isNull(t) || t[0] != '{' {
		return model.Proposal{}, nil
	}
	p, err := DecodeProposal(step, t)
	if err != nil {
		return model.Proposal{}, err
	}
	var echo struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(t, &echo); err == nil && isNull(echo.Data) {
		p.Data = nil
	}
	return p, nil
}

// do executes the call and unwraps the response envelope.
func (c *Client) do(ctx context.Context, sess *model.Session, cl call) (json.RawMessage, error) {
	op, ok := c.index.GetOperation(openapi.PortalService, cl.operationID)
	if !ok {
		return nil, fmt.Errorf("portal: operation %s not found in OpenAPI index", cl.operationID)
	}
	if verrs := c.index.ValidateParams(openapi.PortalService, cl.operationID, cl.path, cl.query); len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, v := range verrs {
			msgs = append(msgs, v.Message)
		}
		return nil, model.NewBadRequestError(strings.Join(msgs, "; "))
	}

	if cl.form != nil && !op.Accepts("multipart/form-data") {
		return nil, fmt.Errorf("portal: operation %s does not accept multipart forms", cl.operationID)
	}

	ctx, span := observability.StartSpan(ctx, "portal."+cl.operationID,
		observability.AttrOperationID.String(cl.operationID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	var body []byte
	var contentType string
	if cl.form != nil {
		body, contentType, err = cl.form.Encode()
		if err != nil {
			return nil, err
		}
	}

	headers := buildRequestHeaders(sess, contentType)
	observability.InjectTraceHeaders(ctx, headers)

	start := time.Now()
	var res response
	res, err = c.executeWithRetry(ctx, op.Method, buildRequestURL(op, cl.path, cl.query), headers, body)
	c.metrics.RecordBackendRequest(cl.operationID, res.status, time.Since(start))
	if err != nil {
		return nil, err
	}

	var data json.RawMessage
	data, err = c.interpret(cl.operationID, res)
	if cl.form != nil && isRejection(err) {
		c.logger.Debug("portal rejected form",
			zap.String("operation_id", cl.operationID),
			observability.FormValues("form", cl.form.Values),
		)
	}
	return data, err
}

func isRejection(err error) bool {
	var env *model.ErrorEnvelope
	return errors.As(err, &env) && env.Code == model.ErrBackendRejected
}

type response struct {
	status int
	body   []byte
}

func (c *Client) interpret(operationID string, res response) (json.RawMessage, error) {
	var env envelope
	decodeErr := json.Unmarshal(res.body, &env)

	switch {
	case res.status == http.StatusUnauthorized:
		return nil, model.NewUnauthorizedError(cmpMessage(env.Message, "portal rejected the session token"))
	case res.status == http.StatusForbidden:
		return nil, model.NewForbiddenError(cmpMessage(env.Message, "portal denied access"))
	case res.status == http.StatusNotFound:
		return nil, model.NewNotFoundError(cmpMessage(env.Message, "portal resource not found"))
	case res.status == http.StatusConflict:
		return nil, model.NewConflictError(cmpMessage(env.Message, "portal reported a conflict"))
	case isServerError(res.status):
		c.logger.Error("portal server error",
			zap.String("operation_id", operationID),
			zap.Int("status", res.status),
			zap.String("message", env.Message),
		)
		return nil, model.NewBackendUnavailableError()
	case isClientError(res.status):
		return nil, model.NewBackendRejectedError(env.Message)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("portal: %s: decode envelope: %w", operationID, decodeErr)
	}
	if env.Success != nil && !*env.Success {
		return nil, model.NewBackendRejectedError(env.Message)
	}
	return env.Data, nil
}

func cmpMessage(msg, fallback string) string {
	if strings.TrimSpace(msg) != "" {
		return msg
	}
	return fallback
}

func (c *Client) executeWithRetry(ctx context.Context, method, reqURL string, headers http.Header, body []byte) (response, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !c.retry.IdempotentOnly

	var lastErr error
	var last response
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordBackendRetry()
			select {
			case <-ctx.Done():
				return response{}, model.NewBackendTimeoutError()
			case <-time.After(backoff(c.retry, attempt)):
			}
		}

		res, err := c.executeOnce(ctx, method, reqURL, headers, body)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return response{}, err
			}
			c.logger.Debug("portal: retrying after error",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if canRetry && isRetryableStatus(res.status) && attempt < maxAttempts-1 {
			last = res
			c.logger.Debug("portal: retrying after status",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", res.status),
			)
			continue
		}
		return res, nil
	}

	if lastErr != nil {
		return response{}, lastErr
	}
	return last, nil
}

func (c *Client) executeOnce(ctx context.Context, method, reqURL string, headers http.Header, body []byte) (response, error) {
	if !c.breaker.Allow() {
		return response{}, circuitOpenError{env: model.NewBackendUnavailableError()}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return response{}, fmt.Errorf("portal: build request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if ctx.Err() != nil || isTimeout(err) {
			return response{}, model.NewBackendTimeoutError()
		}
		if isConnectionError(err) {
			return response{}, model.NewBackendUnavailableError()
		}
		return response{}, fmt.Errorf("portal: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return response{}, fmt.Errorf("portal: read response: %w", err)
	}

	// 4xx answers are the caller's problem, not backend health.
	if isServerError(resp.StatusCode) {
		c.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		c.breaker.RecordSuccess()
	}
	return response{status: resp.StatusCode, body: respBody}, nil
}

func buildRequestURL(op openapi.IndexedOperation, path, query map[string]string) string {
	p := op.PathTemplate
	for name, value := range path {
		p = strings.ReplaceAll(p, "{"+name+"}", url.PathEscape(value))
	}
	u := strings.TrimSuffix(op.BaseURL, "/") + p
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}
	return u
}

func buildRequestHeaders(sess *model.Session, contentType string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if sess != nil {
		if sess.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(sess.Token))
		}
		if sess.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(sess.CorrelationID))
		}
	}
	return h
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool { return code >= 500 }

func isClientError(code int) bool { return code >= 400 && code < 500 }

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// circuitOpenError marks a call rejected by the breaker without contacting
// the backend. It unwraps to BACKEND_UNAVAILABLE.
type circuitOpenError struct{ env *model.ErrorEnvelope }

func (e circuitOpenError) Error() string { return e.env.Error() + " (circuit open)" }
func (e circuitOpenError) Unwrap() error { return e.env }

func isRetryableError(err error) bool {
	var open circuitOpenError
	if errors.As(err, &open) {
		return false
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code == model.ErrBackendUnavailable || env.Code == model.ErrBackendTimeout
	}
	return err != nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	ceiling := cfg.BackoffMax
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}
