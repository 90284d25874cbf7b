package elks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/interactive-solutions/go-dispatch"
	"github.com/pkg/errors"
)

const (
	elksApi = "https://api.46elks.com/a1/sms"

	requestTimeout = 15 * time.Second
)

// Elks in an implementation for 46elks, it only carries sms.
type elks struct {
	client *retryablehttp.Client

	endpoint string
}

func New46ElksClient() dispatch.Transport {
	return new46ElksClient(elksApi)
}

func new46ElksClient(endpoint string) *elks {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Timeout = requestTimeout

	return &elks{
		client:   client,
		endpoint: endpoint,
	}
}

func (e *elks) Send(ctx context.Context, creds dispatch.Credentials, msg dispatch.Message) dispatch.DeliveryOutcome {
	if msg.Channel != dispatch.ChannelSms {
		return dispatch.TransportFailure("46elks does not support channel " + string(msg.Channel))
	}

	body := url.Values{
		"from":    {msg.From},
		"to":      {msg.To},
		"message": {msg.Body},
	}.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(body))
	if err != nil {
		return dispatch.TransportFailure(err.Error())
	}

	req.SetBasicAuth(creds.AccountId, creds.AuthSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("User-Agent", dispatch.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return dispatch.TransportFailure(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	if err != nil {
		return dispatch.TransportFailure(errors.Wrap(err, "failed to read response").Error())
	}

	if resp.StatusCode >= 300 || resp.StatusCode <= 199 {
		return dispatch.Rejected(resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	sent := struct {
		Id string `json:"id"`
	}{}
	if err := json.Unmarshal(raw, &sent); err != nil {
		// accepted, but without a readable message id
		return dispatch.Sent("", resp.StatusCode)
	}

	return dispatch.Sent(sent.Id, resp.StatusCode)
}
