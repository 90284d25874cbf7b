package elks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/interactive-solutions/go-dispatch"
	"github.com/stretchr/testify/assert"
)

func TestSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+46700000000", r.PostForm.Get("to"))
		assert.Equal(t, "Shop", r.PostForm.Get("from"))

		w.Write([]byte(`{"id": "s70df59406a1b4643b96f3f91e0bfb7b0", "status": "created"}`))
	}))
	defer server.Close()

	outcome := new46ElksClient(server.URL).Send(context.Background(), dispatch.Credentials{AccountId: "u", AuthSecret: "p"}, dispatch.Message{
		To:      "+46700000000",
		From:    "Shop",
		Body:    "hello",
		Channel: dispatch.ChannelSms,
	})

	assert.True(t, outcome.Delivered())
	assert.Equal(t, "s70df59406a1b4643b96f3f91e0bfb7b0", outcome.ProviderId)
}

func TestSendRejectsWhatsApp(t *testing.T) {
	outcome := new46ElksClient("http://127.0.0.1:0").Send(context.Background(), dispatch.Credentials{}, dispatch.Message{
		To:      "+46700000000",
		Channel: dispatch.ChannelWhatsApp,
	})

	assert.Equal(t, dispatch.OutcomeStatusTransportError, outcome.Status)
}

func TestSendRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Invalid to number"))
	}))
	defer server.Close()

	outcome := new46ElksClient(server.URL).Send(context.Background(), dispatch.Credentials{}, dispatch.Message{To: "x", Channel: dispatch.ChannelSms})

	assert.Equal(t, "HTTP 403 - Invalid to number", outcome.Response())
}

func TestRequestTimeout(t *testing.T) {
	assert.Equal(t, 15*time.Second, new46ElksClient(elksApi).client.HTTPClient.Timeout)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := new46ElksClient(server.URL)
	client.client.HTTPClient.Timeout = 50 * time.Millisecond

	outcome := client.Send(context.Background(), dispatch.Credentials{}, dispatch.Message{To: "+46700000000", Channel: dispatch.ChannelSms})

	assert.Equal(t, dispatch.OutcomeStatusTransportError, outcome.Status)
}

func TestSendTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte(`{"id": "s7`))
	}))
	defer server.Close()

	outcome := new46ElksClient(server.URL).Send(context.Background(), dispatch.Credentials{}, dispatch.Message{To: "+46700000000", Channel: dispatch.ChannelSms})

	assert.Equal(t, dispatch.OutcomeStatusTransportError, outcome.Status)
	assert.Contains(t, outcome.Description, "failed to read response")
}

func TestSendWithoutMessageId(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	outcome := new46ElksClient(server.URL).Send(context.Background(), dispatch.Credentials{}, dispatch.Message{To: "+46700000000", Channel: dispatch.ChannelSms})

	assert.True(t, outcome.Delivered())
	assert.Equal(t, "Delivered Successfully", outcome.Response())
}
