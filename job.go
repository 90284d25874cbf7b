package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type JobKind string

const (
	JobSingle               JobKind = "single"
	JobMulti                JobKind = "multi"
	JobGroup                JobKind = "group"
	JobOrderConfirmation    JobKind = "order_confirmation"
	JobDeliveryConfirmation JobKind = "delivery_confirmation"
)

func (k JobKind) Valid() bool {
	switch k {
	case JobSingle, JobMulti, JobGroup, JobOrderConfirmation, JobDeliveryConfirmation:
		return true
	}

	return false
}

// Contextual kinds render their template against the job context, the rest send the body as is.
func (k JobKind) Contextual() bool {
	return k == JobOrderConfirmation || k == JobDeliveryConfirmation
}

func (k JobKind) Label() string {
	switch k {
	case JobSingle:
		return "Single SMS"
	case JobMulti:
		return "Multiple SMS"
	case JobGroup:
		return "Group SMS"
	case JobOrderConfirmation:
		return "Sales Order"
	case JobDeliveryConfirmation:
		return "Delivery"
	}

	return string(k)
}

type JobState string

const (
	JobDraft     JobState = "draft"
	JobScheduled JobState = "scheduled"
	JobSent      JobState = "sent"
	JobPartial   JobState = "partial"
	JobFailed    JobState = "failed"
)

func (s JobState) IsTerminal() bool {
	return s == JobSent || s == JobPartial || s == JobFailed
}

// CanTransition reports whether a job may move from one state to another.
// scheduled -> draft is only reachable by clearing the schedule.
func CanTransition(from, to JobState) bool {
	switch from {
	case JobDraft:
		return to == JobScheduled || to.IsTerminal()
	case JobScheduled:
		return to == JobDraft || to.IsTerminal()
	}

	return false
}

// Classify maps the counts of one execution pass to the resulting state.
func Classify(sent, failed int) JobState {
	switch {
	case sent > 0 && failed == 0:
		return JobSent
	case sent == 0:
		return JobFailed
	default:
		return JobPartial
	}
}

var (
	NoRecipientsErr    = errors.New("Add recipients before sending")
	EmptyMessageErr    = errors.New("Please enter a message before sending")
	ScheduleInPastErr  = errors.New("Scheduled time cannot be in the past")
	InvalidJobKindErr  = errors.New("Unknown job kind")
	InvalidChannelErr  = errors.New("Unknown channel")
	InvalidTimezoneErr = errors.New("Unknown time zone")
)

type Job struct {
	Id      uuid.UUID `sql:",pk,type:uuid" json:"id"`
	Kind    JobKind   `sql:",notnull" json:"kind"`
	Channel Channel   `sql:",notnull" json:"channel"`
	Name    string    `json:"name,omitempty"`

	Recipients      []Recipient     `json:"recipients"`
	MessageTemplate string          `sql:",notnull" json:"messageTemplate"`
	Context         TemplateContext `json:"context,omitempty"`
	SourceRef       string          `json:"sourceRef,omitempty"`

	ScheduleAt *time.Time `json:"scheduleAt,omitempty"`
	Timezone   string     `json:"timezone,omitempty"`

	State       JobState `sql:",notnull" json:"state"`
	SentCount   int      `sql:",notnull" json:"sentCount"`
	FailedCount int      `sql:",notnull" json:"failedCount"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
}

type JobCriteria struct {
	Kind      JobKind
	State     JobState
	SourceRef string

	Offset int
	Limit  int
}

// NewJob creates a draft job. The schedule is stored in UTC.
func NewJob(kind JobKind, channel Channel, body string, recipients []Recipient, scheduleAt *time.Time) *Job {
	job := &Job{
		Id:              uuid.New(),
		Kind:            kind,
		Channel:         channel,
		Recipients:      recipients,
		MessageTemplate: body,
		State:           JobDraft,
	}

	if scheduleAt != nil {
		at := scheduleAt.UTC()
		job.ScheduleAt = &at
	}

	return job
}

// Validate checks the job before it is saved. The schedule is only checked
// here, a job may become due later simply because time passes.
func (job *Job) Validate(now time.Time) error {
	if !job.Kind.Valid() {
		return errors.Wrapf(InvalidJobKindErr, "kind %q", job.Kind)
	}

	if !job.Channel.Valid() {
		return errors.Wrapf(InvalidChannelErr, "channel %q", job.Channel)
	}

	if strings.TrimSpace(job.MessageTemplate) == "" {
		return EmptyMessageErr
	}

	if len(job.Recipients) == 0 {
		return NoRecipientsErr
	}

	if job.ScheduleAt != nil && job.ScheduleAt.Before(now) {
		return ScheduleInPastErr
	}

	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			return errors.Wrapf(InvalidTimezoneErr, "%s", job.Timezone)
		}
	}

	return nil
}

// DueAfter reports whether the job should wait for the sweep instead of running now.
func (job *Job) DueAfter(now time.Time) bool {
	return job.ScheduleAt != nil && job.ScheduleAt.After(now)
}

// Body renders the message sent to the recipients of the job.
func (job *Job) Body() (string, error) {
	if !job.Kind.Contextual() {
		return job.MessageTemplate, nil
	}

	return Render(job.MessageTemplate, job.Context)
}

func (job *Job) DetailedStatus() string {
	switch job.State {
	case JobDraft:
		return "Draft"
	case JobScheduled:
		return "Scheduled"
	case JobSent:
		return "Sent"
	case JobFailed:
		return "Failed"
	case JobPartial:
		return fmt.Sprintf("Sent: %d / Failed: %d", job.SentCount, job.FailedCount)
	}

	return "-"
}

// NumberDisplay is the short recipient summary shown in job lists.
func (job *Job) NumberDisplay() string {
	numbers := make([]string, 0, len(job.Recipients))
	for _, r := range job.Recipients {
		numbers = append(numbers, r.Number)
	}

	full := strings.Join(numbers, ", ")
	if len(full) > 25 {
		return full[:18] + "..."
	}

	return full
}

func (job *Job) ScheduleDisplay() string {
	if job.ScheduleAt == nil {
		return "-"
	}

	loc := time.UTC
	if job.Timezone != "" {
		if l, err := time.LoadLocation(job.Timezone); err == nil {
			loc = l
		}
	}

	return job.ScheduleAt.In(loc).Format("01/02/2006 15:04:05")
}

// Header is the group summary, e.g. "Group SMS: Vip 2/3".
func (job *Job) Header() string {
	if job.Kind != JobGroup {
		return ""
	}

	return fmt.Sprintf("Group SMS: %s %d/%d", job.Name, job.SentCount, len(job.Recipients))
}
