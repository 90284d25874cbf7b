package dispatch

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ConnectionState string

const (
	ConnectionUnknown   ConnectionState = "unknown"
	ConnectionConnected ConnectionState = "connected"
	ConnectionFailed    ConnectionState = "failed"
)

// ConfigurationError blocks a whole job before anything is sent.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// ProviderConfig holds the single live set of provider credentials.
type ProviderConfig struct {
	Id   int64  `sql:",pk" json:"id"`
	Name string `json:"name"`

	AccountId      string `json:"accountId"`
	AuthSecret     string `json:"-"`
	SenderNumber   string `json:"senderNumber"`
	WhatsAppSender string `json:"whatsAppSender,omitempty"`

	ConnectionState ConnectionState `sql:",notnull" json:"connectionState"`
	LastTested      *time.Time      `json:"lastTested,omitempty"`

	AccountName   string `json:"accountName,omitempty"`
	AccountType   string `json:"accountType,omitempty"`
	Balance       string `json:"balance,omitempty"`
	MessagesToday string `json:"messagesToday,omitempty"`
	BillToday     string `json:"billToday,omitempty"`
}

func (c ProviderConfig) Credentials() Credentials {
	return Credentials{AccountId: c.AccountId, AuthSecret: c.AuthSecret}
}

// Sender returns the from address for channel.
func (c ProviderConfig) Sender(channel Channel) string {
	if channel == ChannelWhatsApp {
		return c.WhatsAppSender
	}

	return c.SenderNumber
}

// Usable returns a ConfigurationError unless the config can send on channel.
func (c ProviderConfig) Usable(channel Channel) error {
	if c.ConnectionState != ConnectionConnected {
		return &ConfigurationError{Reason: "Please configure the messaging provider in settings first (connected)"}
	}

	if blank(c.AccountId) || blank(c.AuthSecret) || blank(c.SenderNumber) {
		return &ConfigurationError{Reason: "Missing provider credentials in configuration"}
	}

	if channel == ChannelWhatsApp && blank(c.WhatsAppSender) {
		return &ConfigurationError{Reason: "You must save a WhatsApp number in the configuration"}
	}

	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// LookupPolicy picks one active notification config when several exist.
type LookupPolicy int

const (
	FirstActive LookupPolicy = iota
	NewestActive
)

const (
	DefaultOrderTemplate    = "Hello {partner_name}, your order {order_name} has been confirmed. Total: {currency}{amount_total}. Thank you!"
	DefaultDeliveryTemplate = "Hello {partner_name}, your delivery {picking_name} has been shipped via {carrier}. Tracking: {tracking_ref}. Thank you!"
)

// NotificationConfig switches automatic order or delivery notifications on and off.
type NotificationConfig struct {
	Id   uuid.UUID `sql:",pk,type:uuid" json:"id"`
	Kind JobKind   `sql:",notnull" json:"kind"`
	Name string    `sql:",notnull" json:"name"`

	Active          bool   `sql:",notnull" json:"active"`
	MessageTemplate string `sql:",notnull" json:"messageTemplate"`

	TotalSent   int `sql:",notnull" json:"totalSent"`
	TotalFailed int `sql:",notnull" json:"totalFailed"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewNotificationConfig(kind JobKind) *NotificationConfig {
	cfg := &NotificationConfig{
		Id:   uuid.New(),
		Kind: kind,
	}

	switch kind {
	case JobOrderConfirmation:
		cfg.Name = "Sales Order SMS"
		cfg.MessageTemplate = DefaultOrderTemplate
	case JobDeliveryConfirmation:
		cfg.Name = "Delivery SMS"
		cfg.MessageTemplate = DefaultDeliveryTemplate
	}

	return cfg
}

// Policy returns the active config lookup used by kind. Orders take the first
// active config and deliveries the newest one.
func Policy(kind JobKind) LookupPolicy {
	if kind == JobDeliveryConfirmation {
		return NewestActive
	}

	return FirstActive
}

// PickActive applies policy to configs, which must be ordered by creation time.
func PickActive(configs []NotificationConfig, policy LookupPolicy) (NotificationConfig, bool) {
	var picked NotificationConfig
	found := false

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}

		if policy == FirstActive {
			return cfg, true
		}

		picked, found = cfg, true
	}

	return picked, found
}
