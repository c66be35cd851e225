package proxyengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/intercept"
	"github.com/webintercept/proxycore/internal/metrics"
	"github.com/webintercept/proxycore/internal/ruleengine"
)

// runPipeline executes the full per-flow pipeline: buffer the request
// body, evaluate rules, offer the request to the intercept coordinator,
// forward to the origin, evaluate rules and offer the response to the
// intercept coordinator, then record and publish the finished flow.
// Grounded on the teacher's ServeHTTP 8-step shape (parse, policy check,
// read body, forward, branch on response) generalized from a single
// LLM-provider hop to an arbitrary origin request/response.
func (e *Engine) runPipeline(ctx context.Context, f *flow.Flow, req *http.Request) (*http.Response, error) {
	body, overage, err := readCapped(req.Body, e.opts.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	f.RequestBody = body
	f.RequestTruncatedBytes = overage

	if blocked := e.applyRequestPolicy(ctx, f); blocked != nil {
		e.finish(f)
		return blocked, nil
	}

	upReq, err := buildUpstreamRequest(ctx, f)
	if err != nil {
		return nil, err
	}

	upResp, err := e.opts.Client.Do(upReq)
	if err != nil {
		f.Error = err.Error()
		e.finish(f)
		return nil, fmt.Errorf("forwarding to %s: %w", f.Host, err)
	}
	defer upResp.Body.Close()

	f.ResponseStatus = upResp.StatusCode
	f.ResponseReason = upResp.Status
	copyResponseHeaders(f.ResponseHeaders, upResp.Header)

	respBody, respOverage, err := readCapped(upResp.Body, e.opts.MaxBodyBytes)
	if err != nil {
		f.Error = err.Error()
		e.finish(f)
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	f.ResponseBody = respBody
	f.ResponseTruncatedBytes = respOverage

	if blocked := e.applyResponsePolicy(ctx, f); blocked != nil {
		e.finish(f)
		return blocked, nil
	}

	e.finish(f)
	return buildClientResponse(f), nil
}

// applyRequestPolicy runs the rule engine and then, if interception is
// engaged, the intercept coordinator over the request side of f. A
// non-nil return is the final response to send the client (a block or
// drop); nil means continue the pipeline with f possibly mutated.
func (e *Engine) applyRequestPolicy(ctx context.Context, f *flow.Flow) *http.Response {
	d := e.opts.Rules.EvaluateFlow(f, ruleengine.DirectionRequest)
	applyRuleDecision(f, d, ruleengine.DirectionRequest)
	if d.Action == "block" {
		f.Tags["blocked"] = struct{}{}
		return blockedResponse(d.Message)
	}

	f.Intercepted = e.opts.Intercept.Enabled()
	dec, err := e.opts.Intercept.Submit(ctx, f.ID, intercept.PhaseRequest, f.Snapshot())
	if err != nil {
		return blockedResponse("client disconnected while request was held for review")
	}
	switch dec.Action {
	case intercept.ActionDrop:
		return blockedResponse("request dropped by operator")
	case intercept.ActionModify:
		if dec.ModifiedHeaders != nil {
			f.RequestHeaders = dec.ModifiedHeaders
		}
		if dec.ModifiedBody != nil {
			f.RequestBody = dec.ModifiedBody
		}
		f.MarkModified()
	}
	return nil
}

func (e *Engine) applyResponsePolicy(ctx context.Context, f *flow.Flow) *http.Response {
	d := e.opts.Rules.EvaluateFlow(f, ruleengine.DirectionResponse)
	applyRuleDecision(f, d, ruleengine.DirectionResponse)
	if d.Action == "block" {
		f.Tags["blocked"] = struct{}{}
		return blockedResponse(d.Message)
	}

	dec, err := e.opts.Intercept.Submit(ctx, f.ID, intercept.PhaseResponse, f.Snapshot())
	if err != nil {
		return blockedResponse("client disconnected while response was held for review")
	}
	switch dec.Action {
	case intercept.ActionDrop:
		return blockedResponse("response dropped by operator")
	case intercept.ActionModify:
		if dec.ModifiedHeaders != nil {
			f.ResponseHeaders = dec.ModifiedHeaders
		}
		if dec.ModifiedBody != nil {
			f.ResponseBody = dec.ModifiedBody
		}
		f.MarkModified()
	}
	return nil
}

func applyRuleDecision(f *flow.Flow, d ruleengine.Decision, dir ruleengine.Direction) {
	headers := f.RequestHeaders
	if dir == ruleengine.DirectionResponse {
		headers = f.ResponseHeaders
	}

	switch d.Action {
	case "add_header":
		headers.Add(d.HeaderName, d.HeaderValue)
		f.MarkModified()
	case "remove_header":
		if headers.Has(d.HeaderName) {
			headers.Del(d.HeaderName)
			f.MarkModified()
		}
	case "replace":
		if dir == ruleengine.DirectionRequest {
			f.RequestBody = []byte(d.BodyReplacement)
		} else {
			f.ResponseBody = []byte(d.BodyReplacement)
		}
		f.MarkModified()
	}
}

func (e *Engine) finish(f *flow.Flow) {
	f.Finalize()
	snap := f.Snapshot()
	metrics.ObserveFlow(string(snap.Scheme), snap.Modified, time.Duration(snap.DurationMs)*time.Millisecond)
	if e.opts.Flows != nil {
		if err := e.opts.Flows.SaveFlow(context.Background(), snap); err != nil {
			slog.Error("recording flow", "id", f.ID, "error", err)
		}
	}
	if e.opts.Bus != nil {
		e.opts.Bus.Publish("flow", snap)
	}
}

func blockedResponse(message string) *http.Response {
	body := "blocked by proxy policy"
	if message != "" {
		body = message
	}
	return &http.Response{
		StatusCode: http.StatusForbidden,
		Status:     "403 Forbidden",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Close:      true,
	}
}

func buildClientResponse(f *flow.Flow) *http.Response {
	h := http.Header{}
	f.ResponseHeaders.Each(func(name, value string) {
		h.Add(name, value)
	})
	status := f.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode:    status,
		Status:        f.ResponseReason,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(f.ResponseBody)),
		ContentLength: int64(len(f.ResponseBody)),
	}
}
