package tele

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/juju/errors"
)

type HttpTransport struct {
	client  *http.Client
	timeout time.Duration
}

// NewHttpTransport with nil client uses new http.Client over http.DefaultTransport.
func NewHttpTransport(client *http.Client, timeout time.Duration) *HttpTransport {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultHttpTimeout
	}
	return &HttpTransport{client: client, timeout: timeout}
}

func (self *HttpTransport) Send(ctx context.Context, req *Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, errors.Annotatef(err, "endpoint=%s", req.Endpoint)
	}
	hreq.Header.Set("Content-Type", req.ContentType)
	resp, err := self.client.Do(hreq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(ioutil.Discard, resp.Body)
	if err != nil {
		// status already received, exchange is complete
		n = -1
	}
	length := resp.ContentLength
	if length < 0 {
		length = n
	}
	return Response{StatusCode: resp.StatusCode, ContentLength: length}, nil
}
