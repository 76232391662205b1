// Package backend talks to the school/college REST backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/admissions/core"
	"github.com/trezcool/admissions/core/enrollment"
)

// Request headers carrying the operator's working context.
const (
	HeaderBranchID       = "X-Branch-Id"
	HeaderAcademicYearID = "X-Academic-Year-Id"
	HeaderReceiptNo      = "X-Receipt-No"
	HeaderIncomeID       = "X-Income-Id"
)

// Client is the REST backend client shared by the branch adapters.
type Client struct {
	baseURL string
	token   string
	rest    *rest.Client
	logger  core.Logger
}

var _ enrollment.Branches = (*Client)(nil)

func NewClient(conf core.BackendConfig, logger core.Logger) *Client {
	return NewClientWithHTTP(conf, &http.Client{Timeout: conf.Timeout}, logger)
}

func NewClientWithHTTP(conf core.BackendConfig, hc *http.Client, logger core.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		token:   conf.Token,
		rest:    &rest.Client{HTTPClient: hc},
		logger:  logger,
	}
}

// Adapter returns the adapter of the session's branch type.
func (c *Client) Adapter(sess core.Session) (enrollment.BranchAdapter, error) {
	if err := sess.Validate(); err != nil {
		return nil, errors.Wrap(err, "backend.Adapter")
	}
	if sess.IsCollege() {
		return &collegeAdapter{branch{client: c, sess: sess, segment: "college"}}, nil
	}
	return &schoolAdapter{branch{client: c, sess: sess, segment: "school"}}, nil
}

type call struct {
	op      string
	method  rest.Method
	path    string
	query   map[string]string
	headers map[string]string
	body    []byte
}

func (c *Client) url(segment, path string) string {
	return c.baseURL + "/" + segment + path
}

func (c *Client) send(ctx context.Context, sess core.Session, segment string, cl call) (*rest.Response, error) {
	headers := map[string]string{
		"Accept":             "application/json",
		HeaderBranchID:       strconv.Itoa(sess.BranchID),
		HeaderAcademicYearID: strconv.Itoa(sess.AcademicYearID),
	}
	token := sess.Token
	if token == "" {
		token = c.token
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	for k, v := range cl.headers {
		headers[k] = v
	}

	req := rest.Request{
		Method:      cl.method,
		BaseURL:     c.url(segment, cl.path),
		Headers:     headers,
		QueryParams: cl.query,
		Body:        cl.body,
	}
	httpReq, err := rest.BuildRequestObject(req)
	if err != nil {
		return nil, errors.Wrap(err, cl.op)
	}
	res, err := c.rest.MakeRequest(httpReq.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, cl.op)
	}
	resp, err := rest.BuildResponse(res)
	if err != nil {
		return nil, errors.Wrap(err, cl.op)
	}
	c.logger.Debug(fmt.Sprintf("%s: %s %s -> %d", cl.op, cl.method, req.BaseURL, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.BackendError{Op: cl.op, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}
	return resp, nil
}

func (c *Client) sendJSON(ctx context.Context, sess core.Session, segment string, cl call, dest interface{}) error {
	resp, err := c.send(ctx, sess, segment, cl)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := decodeData([]byte(resp.Body), dest); err != nil {
		return &enrollment.ResponseShapeError{Op: cl.op, Reason: err.Error()}
	}
	return nil
}

// errorMessage extracts the backend-provided message of an error response, if any.
func errorMessage(resp *rest.Response) string {
	if !strings.Contains(http.Header(resp.Headers).Get("Content-Type"), "json") {
		return ""
	}
	var body struct {
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		return ""
	}
	switch {
	case body.Message != "":
		return body.Message
	case body.Detail != "":
		return body.Detail
	case len(body.Error) > 0:
		var msg string
		if err := json.Unmarshal(body.Error, &msg); err == nil {
			return msg
		}
	}
	return ""
}

// decodeData decodes body into dest, unwrapping a top-level {"data": ...} envelope when present.
func decodeData(body []byte, dest interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return errors.New("empty body")
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if body[0] == '{' {
		if err := json.Unmarshal(body, &envelope); err == nil {
			data := bytes.TrimSpace(envelope.Data)
			if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
				body = data
			}
		}
	}
	return json.Unmarshal(body, dest)
}
