package api

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/agentuity/go-sessions/session"
	"github.com/cockroachdb/errors"
)

const (
	CreateSessionPath = "/notebook/api/create_session"
	CloseSessionPath  = "/notebook/api/close_session"
)

// ErrNotebookStatus is returned when the notebook API answers with a non-zero status.
var ErrNotebookStatus = errors.New("notebook api error")

// notebookResponse is the envelope used by the notebook API, status 0 means success.
type notebookResponse struct {
	Status  int             `json:"status"`
	Message string          `json:"message,omitempty"`
	Session *session.Handle `json:"session,omitempty"`
}

func (r *notebookResponse) err() error {
	if r.Status == 0 {
		return nil
	}
	if r.Message != "" {
		return errors.Mark(errors.Newf("%s (status %d)", r.Message, r.Status), ErrNotebookStatus)
	}
	return errors.Wrapf(ErrNotebookStatus, "status %d", r.Status)
}

// SessionTransport implements session.Transport against the notebook HTTP API.
type SessionTransport struct {
	client *Client
}

var _ session.Transport = (*SessionTransport)(nil)

func NewSessionTransport(client *Client) *SessionTransport {
	return &SessionTransport{client: client}
}

func (t *SessionTransport) CreateSession(ctx context.Context, def session.Definition) (*session.Handle, error) {
	buf, err := json.Marshal(def)
	if err != nil {
		return nil, errors.Wrap(err, "encoding session definition")
	}
	var resp notebookResponse
	if err := t.client.PostForm(ctx, CreateSessionPath, url.Values{"session": {string(buf)}}, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	if resp.Session == nil {
		return nil, errors.Newf("notebook api returned no %s session", def.Type)
	}
	return resp.Session, nil
}

// CloseSession posts the whole handle, including the fields only the backend
// understands, to the close endpoint.
func (t *SessionTransport) CloseSession(ctx context.Context, handle *session.Handle, opts session.CloseOptions) error {
	buf, err := json.Marshal(handle)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	var reqOpts []RequestOption
	if opts.SilenceErrors {
		reqOpts = append(reqOpts, SilenceErrors())
	}
	var resp notebookResponse
	if err := t.client.PostForm(ctx, CloseSessionPath, url.Values{"session": {string(buf)}}, &resp, reqOpts...); err != nil {
		return err
	}
	return resp.err()
}
