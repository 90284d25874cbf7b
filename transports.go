package dispatch

import (
	"context"
	"strconv"
	"strings"
)

type Channel string

const (
	ChannelSms      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	return c == ChannelSms || c == ChannelWhatsApp
}

const whatsAppPrefix = "whatsapp:"

// WhatsAppAddress adds the channel prefix the provider expects on both ends of a WhatsApp message.
func WhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(trimmed), whatsAppPrefix) {
		return whatsAppPrefix + strings.TrimSpace(trimmed[len(whatsAppPrefix):])
	}

	return whatsAppPrefix + trimmed
}

// Credentials authenticate a single provider call.
type Credentials struct {
	AccountId  string
	AuthSecret string
}

// Message is one rendered message ready for transmission.
type Message struct {
	To      string
	From    string
	Body    string
	Channel Channel
}

type OutcomeStatus string

const (
	OutcomeStatusSent           OutcomeStatus = "sent"
	OutcomeStatusRejected       OutcomeStatus = "rejected"
	OutcomeStatusTransportError OutcomeStatus = "transport_error"
)

type DeliveryOutcome struct {
	Status OutcomeStatus `json:"status"`

	ProviderId      string `json:"providerId,omitempty"`
	HTTPStatus      int    `json:"httpStatus,omitempty"`
	ProviderMessage string `json:"providerMessage,omitempty"`
	Description     string `json:"description,omitempty"`
}

func Sent(providerId string, httpStatus int) DeliveryOutcome {
	return DeliveryOutcome{Status: OutcomeStatusSent, ProviderId: providerId, HTTPStatus: httpStatus}
}

func Rejected(httpStatus int, providerMessage string) DeliveryOutcome {
	return DeliveryOutcome{Status: OutcomeStatusRejected, HTTPStatus: httpStatus, ProviderMessage: providerMessage}
}

func TransportFailure(description string) DeliveryOutcome {
	return DeliveryOutcome{Status: OutcomeStatusTransportError, Description: description}
}

func (o DeliveryOutcome) Delivered() bool {
	return o.Status == OutcomeStatusSent
}

// Response is the provider response text stored in the ledger.
func (o DeliveryOutcome) Response() string {
	switch o.Status {
	case OutcomeStatusSent:
		if o.ProviderId == "" {
			return "Delivered Successfully"
		}
		return "HTTP " + strconv.Itoa(o.HTTPStatus) + " - " + o.ProviderId

	case OutcomeStatusRejected:
		return "HTTP " + strconv.Itoa(o.HTTPStatus) + " - " + o.ProviderMessage

	default:
		return "Error: " + o.Description
	}
}

type Transport interface {
	Send(ctx context.Context, creds Credentials, msg Message) DeliveryOutcome
}

type AccountInfo struct {
	FriendlyName string `json:"friendlyName"`
	Type         string `json:"type"`
	Status       string `json:"status"`
}

type AccountBalance struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type AccountUsage struct {
	Messages string `json:"messages"`
	Price    string `json:"price"`
}

// AccountInspector is implemented by transports that expose read-only account status.
type AccountInspector interface {
	Account(ctx context.Context, creds Credentials) (AccountInfo, error)
	Balance(ctx context.Context, creds Credentials) (AccountBalance, error)
	UsageToday(ctx context.Context, creds Credentials) (AccountUsage, error)
}
