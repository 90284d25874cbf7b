package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-dispatch/internal"
)

const maxImportSize = 10 << 20

type HttpHandler struct {
	app *application
}

// Register mounts the admin API on router.
func (h *HttpHandler) Register(router *mux.Router) {
	router.HandleFunc("/jobs", h.CreateJob).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}/send", h.SendJob).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}/resend", h.ResendJob).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}/unschedule", h.UnscheduleJob).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{id}/export/{outcome}", h.ExportJob).Methods(http.MethodGet)

	router.HandleFunc("/numbers/import", h.ImportNumbers).Methods(http.MethodPost)
	router.HandleFunc("/preview", h.Preview).Methods(http.MethodPost)

	router.HandleFunc("/ledger", h.GetLedger).Methods(http.MethodGet)
	router.HandleFunc("/ledger/summary", h.GetLedgerSummary).Methods(http.MethodGet)
	router.HandleFunc("/ledger", h.PurgeLedger).Methods(http.MethodDelete)

	router.HandleFunc("/provider", h.GetProvider).Methods(http.MethodGet)
	router.HandleFunc("/provider", h.UpdateProvider).Methods(http.MethodPut)
	router.HandleFunc("/provider/test", h.TestProvider).Methods(http.MethodPost)
	router.HandleFunc("/provider/refresh", h.RefreshProvider).Methods(http.MethodPost)
	router.HandleFunc("/provider/disconnect", h.DisconnectProvider).Methods(http.MethodPost)

	router.HandleFunc("/notifications/{kind}", h.GetNotification).Methods(http.MethodGet)
	router.HandleFunc("/notifications/{kind}", h.UpdateNotification).Methods(http.MethodPut)

	router.HandleFunc("/orders/{ref}/notify", h.NotifyOrder).Methods(http.MethodPost)
	router.HandleFunc("/deliveries/{ref}/notify", h.NotifyDelivery).Methods(http.MethodPost)

	router.HandleFunc("/templates", h.GetAllTemplates).Methods(http.MethodGet)
	router.HandleFunc("/templates", h.CreateTemplate).Methods(http.MethodPost)
	router.HandleFunc("/templates/{id}", h.GetTemplate).Methods(http.MethodGet)
	router.HandleFunc("/templates/{id}", h.UpdateTemplate).Methods(http.MethodPut)
	router.HandleFunc("/templates/{id}", h.DeleteTemplate).Methods(http.MethodDelete)
}

type jobResponse struct {
	Job

	DetailedStatus  string `json:"detailedStatus"`
	NumberDisplay   string `json:"numberDisplay"`
	ScheduleDisplay string `json:"scheduleDisplay"`
	Header          string `json:"header,omitempty"`
}

func newJobResponse(job Job) jobResponse {
	return jobResponse{
		Job:             job,
		DetailedStatus:  job.DetailedStatus(),
		NumberDisplay:   job.NumberDisplay(),
		ScheduleDisplay: job.ScheduleDisplay(),
		Header:          job.Header(),
	}
}

type recordResponse struct {
	DeliveryRecord

	NumberDisplay string `json:"numberDisplay"`
	SourceDisplay string `json:"sourceDisplay"`
}

func writeJson(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to convert to json", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps engine errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	cause := errors.Cause(err)

	switch cause.(type) {
	case *ConfigurationError:
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return

	case *TemplateError, *NormalizationError:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	switch cause {
	case JobNotFoundErr, TemplateNotFoundErr, ConfigNotFoundErr:
		http.Error(w, err.Error(), http.StatusNotFound)

	case NoRecipientsErr, EmptyMessageErr, ScheduleInPastErr, InvalidJobKindErr, InvalidChannelErr,
		InvalidTimezoneErr, MissingColumnErr, NoNumbersErr, EmptySheetErr:
		http.Error(w, err.Error(), http.StatusBadRequest)

	case JobAlreadyExecutedErr, JobNotExecutedErr, JobNotScheduledErr, JobInFlightErr,
		AlreadyNotifiedErr, NotificationDisabledErr, NoContactNumberErr:
		http.Error(w, err.Error(), http.StatusConflict)

	case NoOrderSourceErr, NoAccountInspectorErr:
		http.Error(w, err.Error(), http.StatusNotImplemented)

	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func decode(r *http.Request, body interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		return err
	}

	return internal.Validate(body)
}

func routeId(r *http.Request) (uuid.UUID, bool) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		return uuid.Nil, false
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false
	}

	return parsed, true
}

func (h *HttpHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	body := &internal.CreateJobRequest{}
	if err := decode(r, body); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), 400)
		return
	}

	var recipients []Recipient
	kind := JobKind(body.Kind)

	switch kind {
	case JobSingle:
		recipients = []Recipient{{Number: strings.TrimSpace(body.Number)}}

	case JobMulti:
		recipients = RecipientsFromNumbers(ParseNumberList(body.Numbers))

	case JobGroup:
		for _, rec := range body.Recipients {
			recipients = append(recipients, Recipient{Number: rec.Number, Name: rec.Name, CountryCode: rec.CountryCode})
		}
	}

	channel := ChannelSms
	if body.Channel != "" {
		channel = Channel(body.Channel)
	}

	job := NewJob(kind, channel, body.Message, recipients, body.ScheduleAt)
	job.Name = body.Name
	job.Timezone = body.Timezone

	result, err := h.app.Submit(r.Context(), job)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJson(w, http.StatusCreated, newJobResponse(result))
}

func (h *HttpHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := routeId(r)
	if !ok {
		http.Error(w, "Invalid job id", 400)
		return
	}

	job, err := h.app.jobRepo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJson(w, http.StatusOK, newJobResponse(job))
}

func (h *HttpHandler) jobAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id uuid.UUID) (Job, error)) {
	id, ok := routeId(r)
	if !ok {
		http.Error(w, "Invalid job id", 400)
		return
	}

	job, err := action(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJson(w, http.StatusOK, newJobResponse(job))
}

func (h *HttpHandler) SendJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.app.Execute)
}

func (h *HttpHandler) ResendJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.app.Resend)
}

func (h *HttpHandler) UnscheduleJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.app.Unschedule)
}

func (h *HttpHandler) ExportJob(w http.ResponseWriter, r *http.Request) {
	id, ok := routeId(r)
	if !ok {
		http.Error(w, "Invalid job id", 400)
		return
	}

	var outcome Outcome
	switch mux.Vars(r)["outcome"] {
	case "success":
		outcome = OutcomeSent
	case "failure":
		outcome = OutcomeFailed
	default:
		http.Error(w, "Outcome must be success or failure", 400)
		return
	}

	filename, data, err := h.app.ExportJob(r.Context(), id, outcome)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Write(data)
}

func (h *HttpHandler) ImportNumbers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportSize)

	var src io.Reader = r.Body

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file", 400)
			return
		}
		defer file.Close()

		src = file
	}

	numbers, err := ImportNumbers(src)
	if err != nil {
		if cause := errors.Cause(err); cause == MissingColumnErr || cause == NoNumbersErr || cause == EmptySheetErr {
			writeError(w, err)
			return
		}

		http.Error(w, err.Error(), 400)
		return
	}

	writeJson(w, http.StatusOK, struct {
		Numbers []string `json:"numbers"`
		Joined  string   `json:"joined"`
	}{numbers, strings.Join(numbers, ", ")})
}

func (h *HttpHandler) Preview(w http.ResponseWriter, r *http.Request) {
	body := &internal.PreviewRequest{}
	if err := decode(r, body); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), 400)
		return
	}

	writeJson(w, http.StatusOK, struct {
		Preview      string   `json:"preview"`
		Placeholders []string `json:"placeholders"`
	}{h.app.Preview(JobKind(body.Kind), body.Template), Placeholders(body.Template)})
}

func ledgerCriteria(r *http.Request) (LedgerCriteria, error) {
	query := r.URL.Query()
	criteria := LedgerCriteria{
		SourceKind: JobKind(query.Get("kind")),
		SourceRef:  query.Get("ref"),
		Outcome:    Outcome(query.Get("outcome")),
		Limit:      50,
	}

	if v := query.Get("jobId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return criteria, errors.Wrap(err, "invalid jobId")
		}
		criteria.JobId = id
	}

	for key, dst := range map[string]*time.Time{"since": &criteria.Since, "until": &criteria.Until} {
		if v := query.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return criteria, errors.Wrapf(err, "invalid %s", key)
			}
			*dst = t
		}
	}

	for key, dst := range map[string]*int{"offset": &criteria.Offset, "limit": &criteria.Limit} {
		if v := query.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return criteria, errors.Errorf("invalid %s", key)
			}
			*dst = n
		}
	}

	return criteria, nil
}

func (h *HttpHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	criteria, err := ledgerCriteria(r)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	records, count, err := h.app.ledger.Matching(r.Context(), criteria)
	if err != nil {
		http.Error(w, "Failed to retrieve ledger", 500)
		return
	}

	data := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		data = append(data, recordResponse{DeliveryRecord: rec, NumberDisplay: rec.NumberDisplay(), SourceDisplay: rec.SourceDisplay()})
	}

	writeJson(w, http.StatusOK, struct {
		Data  []recordResponse `json:"data"`
		Count int              `json:"count"`
	}{data, count})
}

func (h *HttpHandler) GetLedgerSummary(w http.ResponseWriter, r *http.Request) {
	criteria, err := ledgerCriteria(r)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	summary, err := h.app.ledger.Summarize(r.Context(), criteria)
	if err != nil {
		http.Error(w, "Failed to summarize ledger", 500)
		return
	}

	writeJson(w, http.StatusOK, summary)
}

func (h *HttpHandler) PurgeLedger(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.app.ledger.Purge(r.Context())
	if err != nil {
		http.Error(w, "Failed to purge ledger", 500)
		return
	}

	h.app.logger.WithField("deleted", deleted).Warn("ledger purged")

	writeJson(w, http.StatusOK, struct {
		Deleted int `json:"deleted"`
	}{deleted})
}

func (h *HttpHandler) providerAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context) (ProviderConfig, error)) {
	cfg, err := action(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJson(w, http.StatusOK, cfg)
}

func (h *HttpHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	h.providerAction(w, r, h.app.configRepo.Provider)
}

func (h *HttpHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	body := &internal.ProviderRequest{}
	if err := decode(r, body); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), 400)
		return
	}

	h.providerAction(w, r, func(ctx context.Context) (ProviderConfig, error) {
		cfg, err := h.app.configRepo.Provider(ctx)
		if err != nil && errors.Cause(err) != ConfigNotFoundErr {
			return cfg, err
		}

		cfg.Name = firstNonBlank(body.Name, cfg.Name, "Messaging Settings")
		cfg.AccountId = strings.TrimSpace(body.AccountId)
		cfg.AuthSecret = strings.TrimSpace(body.AuthSecret)
		cfg.SenderNumber = strings.TrimSpace(body.SenderNumber)
		cfg.WhatsAppSender = strings.TrimSpace(body.WhatsAppSender)
		cfg.ConnectionState = ConnectionUnknown

		return cfg, h.app.configRepo.SaveProvider(ctx, &cfg)
	})
}

func (h *HttpHandler) TestProvider(w http.ResponseWriter, r *http.Request) {
	h.providerAction(w, r, h.app.TestConnection)
}

func (h *HttpHandler) RefreshProvider(w http.ResponseWriter, r *http.Request) {
	h.providerAction(w, r, h.app.RefreshUsage)
}

func (h *HttpHandler) DisconnectProvider(w http.ResponseWriter, r *http.Request) {
	h.providerAction(w, r, h.app.Disconnect)
}

func notificationKind(r *http.Request) (JobKind, bool) {
	switch JobKind(mux.Vars(r)["kind"]) {
	case JobOrderConfirmation:
		return JobOrderConfirmation, true
	case JobDeliveryConfirmation:
		return JobDeliveryConfirmation, true
	}

	return "", false
}

type notificationResponse struct {
	NotificationConfig

	Preview string `json:"preview"`
}

func (h *HttpHandler) activeOrDefault(ctx context.Context, kind JobKind) (NotificationConfig, error) {
	configs, err := h.app.configRepo.Notifications(ctx, kind)
	if err != nil {
		return NotificationConfig{}, err
	}

	if cfg, ok := PickActive(configs, Policy(kind)); ok {
		return cfg, nil
	}

	if len(configs) > 0 {
		return configs[0], nil
	}

	return *NewNotificationConfig(kind), nil
}

func (h *HttpHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	kind, ok := notificationKind(r)
	if !ok {
		http.Error(w, "Unknown notification kind", 404)
		return
	}

	cfg, err := h.activeOrDefault(r.Context(), kind)
	if err != nil {
		http.Error(w, "Failed to retrieve notification configuration", 500)
		return
	}

	writeJson(w, http.StatusOK, notificationResponse{cfg, h.app.Preview(kind, cfg.MessageTemplate)})
}

func (h *HttpHandler) UpdateNotification(w http.ResponseWriter, r *http.Request) {
	kind, ok := notificationKind(r)
	if !ok {
		http.Error(w, "Unknown notification kind", 404)
		return
	}

	body := &internal.NotificationRequest{}
	if err := decode(r, body); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), 400)
		return
	}

	cfg, err := h.activeOrDefault(r.Context(), kind)
	if err != nil {
		http.Error(w, "Failed to retrieve notification configuration", 500)
		return
	}

	now := h.app.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}

	cfg.Name = body.Name
	cfg.Active = body.Active
	cfg.MessageTemplate = body.MessageTemplate
	cfg.UpdatedAt = now

	if err := h.app.configRepo.SaveNotification(r.Context(), &cfg); err != nil {
		http.Error(w, "Failed to update notification configuration", 500)
		return
	}

	writeJson(w, http.StatusOK, notificationResponse{cfg, h.app.Preview(kind, cfg.MessageTemplate)})
}

func forced(r *http.Request) bool {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	return force
}

func (h *HttpHandler) NotifyOrder(w http.ResponseWriter, r *http.Request) {
	if h.app.orderSource == nil {
		writeError(w, NoOrderSourceErr)
		return
	}

	order, err := h.app.orderSource.Order(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		h.app.logger.WithError(err).Error("failed to load order")
		http.Error(w, "Failed to load order", 502)
		return
	}

	job, err := h.app.NotifyOrderConfirmed(r.Context(), order, forced(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJson(w, http.StatusOK, newJobResponse(job))
}

func (h *HttpHandler) NotifyDelivery(w http.ResponseWriter, r *http.Request) {
	if h.app.orderSource == nil {
		writeError(w, NoOrderSourceErr)
		return
	}

	delivery, err := h.app.orderSource.Delivery(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		h.app.logger.WithError(err).Error("failed to load delivery")
		http.Error(w, "Failed to load delivery", 502)
		return
	}

	job, err := h.app.NotifyDeliveryValidated(r.Context(), delivery, forced(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJson(w, http.StatusOK, newJobResponse(job))
}

func (h *HttpHandler) templates(w http.ResponseWriter) (TemplateRepository, bool) {
	if h.app.templateRepo == nil {
		http.Error(w, "Templates are not enabled", http.StatusNotImplemented)
		return nil, false
	}

	return h.app.templateRepo, true
}

func (h *HttpHandler) GetAllTemplates(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.templates(w)
	if !ok {
		return
	}

	templates, count, err := repo.Matching(r.Context(), TemplateCriteria{
		Name:    r.URL.Query().Get("name"),
		Channel: Channel(r.URL.Query().Get("channel")),
		Limit:   100,
	})
	if err != nil {
		http.Error(w, "Failed to retrieve templates", 500)
		return
	}

	writeJson(w, http.StatusOK, struct {
		Data  []Template `json:"data"`
		Count int        `json:"count"`
	}{templates, count})
}

func (h *HttpHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.templates(w)
	if !ok {
		return
	}

	body := &internal.TemplateRequest{}
	if err := decode(r, body); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), 400)
		return
	}

	now := h.app.now().UTC()
	template := Template{
		Id:        uuid.New(),
		Name:      body.Name,
		Channel:   Channel(body.Channel),
		Body:      body.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.Create(r.Context(), &template); err != nil {
		http.Error(w, "Failed to create template", 500)
		return
	}

	writeJson(w, http.StatusCreated, template)
}

func (h *HttpHandler) loadTemplate(w http.ResponseWriter, r *http.Request) (TemplateRepository, Template, bool) {
	repo, ok := h.templates(w)
	if !ok {
		return nil, Template{}, false
	}

	id, ok := routeId(r)
	if !ok {
		http.Error(w, "Invalid template id", 400)
		return nil, Template{}, false
	}

	template, err := repo.Get(r.Context(), id)
	if err != nil {
		if errors.Cause(err) == TemplateNotFoundErr {
			http.Error(w, "Template not found", 404)
			return nil, template, false
		}

		http.Error(w, "Failed to retrieve template", 500)
		return nil, template, false
	}

	return repo, template, true
}

func (h *HttpHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	_, template, ok := h.loadTemplate(w, r)
	if !ok {
		return
	}

	writeJson(w, http.StatusOK, template)
}

func (h *HttpHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	repo, template, ok := h.loadTemplate(w, r)
	if !ok {
		return
	}

	body := &internal.TemplateRequest{}
	if err := decode(r, body); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), 400)
		return
	}

	template.Name = body.Name
	template.Channel = Channel(body.Channel)
	template.Body = body.Body
	template.UpdatedAt = h.app.now().UTC()

	if err := repo.Update(r.Context(), &template); err != nil {
		http.Error(w, "Failed to update template", 500)
		return
	}

	writeJson(w, http.StatusOK, template)
}

func (h *HttpHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	repo, template, ok := h.loadTemplate(w, r)
	if !ok {
		return
	}

	if err := repo.Delete(r.Context(), &template); err != nil {
		http.Error(w, "Failed to delete template", 500)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
