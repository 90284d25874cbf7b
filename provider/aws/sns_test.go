package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/interactive-solutions/go-dispatch"
	"github.com/stretchr/testify/assert"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) (*snsTransport, func()) {
	server := httptest.NewServer(handler)

	sess, err := session.NewSession(aws.NewConfig().
		WithRegion("eu-north-1").
		WithEndpoint(server.URL).
		WithMaxRetries(0))
	if !assert.NoError(t, err) {
		t.FailNow()
	}

	return NewSnsTransport(sess), server.Close
}

var creds = dispatch.Credentials{AccountId: "AKIDEXAMPLE", AuthSecret: "secret"}

func TestPublish(t *testing.T) {
	transport, done := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "Publish", r.PostForm.Get("Action"))
		assert.Equal(t, "+46700000000", r.PostForm.Get("PhoneNumber"))
		assert.Equal(t, "hello", r.PostForm.Get("Message"))

		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<PublishResponse xmlns="http://sns.amazonaws.com/doc/2010-03-31/"><PublishResult><MessageId>94f20ce6-13c5-43a0-9a9e-ca52d816e90b</MessageId></PublishResult><ResponseMetadata><RequestId>f187a3c1</RequestId></ResponseMetadata></PublishResponse>`))
	})
	defer done()

	outcome := transport.Send(context.Background(), creds, dispatch.Message{To: "+46700000000", From: "+15550001", Body: "hello", Channel: dispatch.ChannelSms})

	assert.True(t, outcome.Delivered())
	assert.Equal(t, "94f20ce6-13c5-43a0-9a9e-ca52d816e90b", outcome.ProviderId)
}

func TestPublishRejected(t *testing.T) {
	transport, done := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`<ErrorResponse><Error><Type>Sender</Type><Code>InvalidParameter</Code><Message>Invalid parameter: PhoneNumber</Message></Error><RequestId>f187a3c2</RequestId></ErrorResponse>`))
	})
	defer done()

	outcome := transport.Send(context.Background(), creds, dispatch.Message{To: "+4", Body: "hello", Channel: dispatch.ChannelSms})

	assert.Equal(t, dispatch.OutcomeStatusRejected, outcome.Status)
	assert.Equal(t, 400, outcome.HTTPStatus)
}

func TestPublishTimeout(t *testing.T) {
	release := make(chan struct{})
	transport, done := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer done()
	defer close(release)

	assert.Equal(t, 15*time.Second, transport.timeout)
	transport.timeout = 50 * time.Millisecond

	outcome := transport.Send(context.Background(), creds, dispatch.Message{To: "+46700000000", Body: "hello", Channel: dispatch.ChannelSms})

	assert.Equal(t, dispatch.OutcomeStatusTransportError, outcome.Status)
}

func TestPublishRejectsWhatsApp(t *testing.T) {
	transport := NewSnsTransport(nil)

	outcome := transport.Send(context.Background(), creds, dispatch.Message{To: "+46700000000", Channel: dispatch.ChannelWhatsApp})
	assert.Equal(t, dispatch.OutcomeStatusTransportError, outcome.Status)
}
