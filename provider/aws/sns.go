package provider

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/interactive-solutions/go-dispatch"
)

const requestTimeout = 15 * time.Second

type snsTransport struct {
	sess *session.Session

	smsType string
	timeout time.Duration
}

// NewSnsTransport sends sms through SNS. The provider account id and secret
// are used as access key id and secret access key for every publish.
func NewSnsTransport(sess *session.Session) *snsTransport {
	return &snsTransport{
		sess:    sess,
		smsType: "Transactional",
		timeout: requestTimeout,
	}
}

func (transport *snsTransport) Send(ctx context.Context, creds dispatch.Credentials, msg dispatch.Message) dispatch.DeliveryOutcome {
	if msg.Channel != dispatch.ChannelSms {
		return dispatch.TransportFailure("sns does not support channel " + string(msg.Channel))
	}

	ctx, cancel := context.WithTimeout(ctx, transport.timeout)
	defer cancel()

	config := aws.NewConfig()
	if creds.AccountId != "" {
		config = config.WithCredentials(credentials.NewStaticCredentials(creds.AccountId, creds.AuthSecret, ""))
	}

	attributes := map[string]*sns.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(transport.smsType),
		},
	}

	// sender ids are alphanumeric, a phone number cannot be used as one
	if msg.From != "" && !strings.HasPrefix(msg.From, "+") {
		attributes["AWS.SNS.SMS.SenderID"] = &sns.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.From),
		}
	}

	out, err := sns.New(transport.sess, config).PublishWithContext(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(msg.Body),
		MessageAttributes: attributes,
	})
	if err != nil {
		if failure, ok := err.(awserr.RequestFailure); ok {
			return dispatch.Rejected(failure.StatusCode(), failure.Message())
		}

		return dispatch.TransportFailure(err.Error())
	}

	return dispatch.Sent(aws.StringValue(out.MessageId), 200)
}
