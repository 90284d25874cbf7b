package internal

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a request against its validate tags.
func Validate(request interface{}) error {
	return validate.Struct(request)
}

type RecipientRequest struct {
	Number      string `json:"number" validate:"required"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode" validate:"omitempty,max=6"`
}

type CreateJobRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=single multi group"`
	Channel string `json:"channel" validate:"omitempty,oneof=sms whatsapp"`
	Name    string `json:"name" validate:"required_if=Kind group"`
	Message string `json:"message" validate:"required"`

	Number     string             `json:"number" validate:"required_if=Kind single"`
	Numbers    string             `json:"numbers" validate:"required_if=Kind multi"`
	Recipients []RecipientRequest `json:"recipients" validate:"required_if=Kind group,dive"`

	ScheduleAt *time.Time `json:"scheduleAt"`
	Timezone   string     `json:"timezone"`
}

type PreviewRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=single multi group order_confirmation delivery_confirmation"`
	Template string `json:"template"`
}

type ProviderRequest struct {
	Name           string `json:"name"`
	AccountId      string `json:"accountId" validate:"required"`
	AuthSecret     string `json:"authSecret" validate:"required"`
	SenderNumber   string `json:"senderNumber" validate:"required"`
	WhatsAppSender string `json:"whatsAppSender"`
}

type NotificationRequest struct {
	Name            string `json:"name" validate:"required"`
	Active          bool   `json:"active"`
	MessageTemplate string `json:"messageTemplate" validate:"required"`
}

type TemplateRequest struct {
	Name    string `json:"name" validate:"required"`
	Channel string `json:"channel" validate:"required,oneof=sms whatsapp"`
	Body    string `json:"body" validate:"required"`
}
