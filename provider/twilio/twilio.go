package twilio

import (
	"context"
	"encoding/json"
	"fmt"
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
	DefaultBaseUrl = "https://api.twilio.com/2010-04-01"

	requestTimeout = 15 * time.Second
	maxBodyBytes   = 16 * 1024
)

// usage categories counted as outgoing messages, the last match wins
var messageCategories = map[string]bool{
	"sms":          true,
	"messages":     true,
	"sms-outbound": true,
}

type Option func(t *twilio)

func SetBaseUrl(baseUrl string) Option {
	return func(t *twilio) {
		t.baseUrl = strings.TrimRight(baseUrl, "/")
	}
}

func SetHttpClient(client *http.Client) Option {
	return func(t *twilio) {
		t.client.HTTPClient = client
	}
}

// twilio talks to the Twilio REST api, messages are form posts authenticated
// with the account id and auth token of each call.
type twilio struct {
	client  *retryablehttp.Client
	baseUrl string
}

func NewTwilioTransport(options ...Option) *twilio {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Timeout = requestTimeout

	t := &twilio{
		client:  client,
		baseUrl: DefaultBaseUrl,
	}

	for _, option := range options {
		option(t)
	}

	return t
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type messageResponse struct {
	Sid string `json:"sid"`
	apiError
}

func (t *twilio) Send(ctx context.Context, creds dispatch.Credentials, msg dispatch.Message) dispatch.DeliveryOutcome {
	to, from := msg.To, msg.From
	if msg.Channel == dispatch.ChannelWhatsApp {
		to, from = dispatch.WhatsAppAddress(to), dispatch.WhatsAppAddress(from)
	}

	body := url.Values{
		"From": {from},
		"To":   {to},
		"Body": {msg.Body},
	}.Encode()

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.baseUrl, url.PathEscape(creds.AccountId))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return dispatch.TransportFailure(err.Error())
	}

	req.SetBasicAuth(creds.AccountId, creds.AuthSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("User-Agent", dispatch.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return dispatch.TransportFailure(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return dispatch.TransportFailure(errors.Wrap(err, "failed to read response").Error())
	}

	parsed := messageResponse{}
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return dispatch.Sent(parsed.Sid, resp.StatusCode)
	}

	message := strings.TrimSpace(parsed.Message)
	if decodeErr != nil || message == "" {
		message = strings.TrimSpace(string(raw))
	}

	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return dispatch.Rejected(resp.StatusCode, message)
}

func (t *twilio) get(ctx context.Context, creds dispatch.Credentials, path string, target interface{}) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s%s", t.baseUrl, url.PathEscape(creds.AccountId), path)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	req.SetBasicAuth(creds.AccountId, creds.AuthSecret)
	req.Header.Set("User-Agent", dispatch.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		failure := apiError{}
		if json.Unmarshal(raw, &failure) == nil && failure.Message != "" {
			return errors.New(failure.Message)
		}

		return errors.Errorf("Unexpected response code %d received from twilio", resp.StatusCode)
	}

	return errors.Wrap(json.Unmarshal(raw, target), "failed to decode response")
}

func (t *twilio) Account(ctx context.Context, creds dispatch.Credentials) (dispatch.AccountInfo, error) {
	account := struct {
		FriendlyName string `json:"friendly_name"`
		Type         string `json:"type"`
		Status       string `json:"status"`
	}{}

	if err := t.get(ctx, creds, ".json", &account); err != nil {
		return dispatch.AccountInfo{}, err
	}

	return dispatch.AccountInfo{
		FriendlyName: account.FriendlyName,
		Type:         account.Type,
		Status:       account.Status,
	}, nil
}

func (t *twilio) Balance(ctx context.Context, creds dispatch.Credentials) (dispatch.AccountBalance, error) {
	balance := struct {
		Balance  interface{} `json:"balance"`
		Currency string      `json:"currency"`
	}{}

	if err := t.get(ctx, creds, "/Balance.json", &balance); err != nil {
		return dispatch.AccountBalance{}, err
	}

	return dispatch.AccountBalance{
		Balance:  text(balance.Balance),
		Currency: balance.Currency,
	}, nil
}

func (t *twilio) UsageToday(ctx context.Context, creds dispatch.Credentials) (dispatch.AccountUsage, error) {
	usage := struct {
		Records []struct {
			Category string      `json:"category"`
			Usage    interface{} `json:"usage"`
			Price    interface{} `json:"price"`
		} `json:"usage_records"`
	}{}

	if err := t.get(ctx, creds, "/Usage/Records/Today.json", &usage); err != nil {
		return dispatch.AccountUsage{}, err
	}

	result := dispatch.AccountUsage{Messages: "0", Price: "0"}
	for _, record := range usage.Records {
		if messageCategories[record.Category] {
			result.Messages = text(record.Usage)
			result.Price = text(record.Price)
		}
	}

	return result, nil
}

// text formats a json scalar that the api returns either quoted or bare.
func text(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
