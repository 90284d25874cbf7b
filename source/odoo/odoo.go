package odoo

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/interactive-solutions/go-dispatch"
	"github.com/kolo/xmlrpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	commonEndpoint = "/xmlrpc/2/common"
	objectEndpoint = "/xmlrpc/2/object"

	datetimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
)

var (
	AuthenticationFailedErr = errors.New("Odoo rejected the credentials")
	RecordNotFoundErr       = errors.New("The record was not found in Odoo")
)

var orderStates = map[string]string{
	"draft":  "Quotation",
	"sent":   "Quotation Sent",
	"sale":   "Sales Order",
	"done":   "Locked",
	"cancel": "Cancelled",
}

type Option func(s *source)

func SetLogger(logger logrus.FieldLogger) Option {
	return func(s *source) {
		s.logger = logger
	}
}

func SetTimeout(timeout time.Duration) Option {
	return func(s *source) {
		s.timeout = timeout
	}
}

func SetTransport(transport http.RoundTripper) Option {
	return func(s *source) {
		s.transport = transport
	}
}

// source reads sale orders and delivery pickings over the Odoo XML-RPC api.
type source struct {
	logger logrus.FieldLogger

	url      string
	db       string
	username string
	password string

	transport http.RoundTripper
	timeout   time.Duration

	mu  sync.Mutex
	uid int64
}

func NewOdooSource(rawUrl, db, username, password string, options ...Option) (dispatch.OrderSource, error) {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse odoo url")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.Errorf("invalid odoo url scheme %q", parsed.Scheme)
	}

	s := &source{
		logger:    logrus.New(),
		url:       strings.TrimRight(rawUrl, "/"),
		db:        db,
		username:  username,
		password:  password,
		transport: http.DefaultTransport,
		timeout:   15 * time.Second,
	}

	for _, option := range options {
		option(s)
	}

	return s, nil
}

// call runs one rpc call, the xmlrpc client itself has no notion of a context.
func (s *source) call(ctx context.Context, endpoint, method string, args []interface{}, reply interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client, err := xmlrpc.NewClient(s.url+endpoint, s.transport)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", endpoint)
	}

	target := reflect.ValueOf(reply)
	if target.Kind() != reflect.Ptr || target.IsNil() {
		return errors.Errorf("reply for %s must be a non-nil pointer", method)
	}

	// a call abandoned on timeout keeps decoding into its own value
	decoded := reflect.New(target.Elem().Type())

	done := make(chan error, 1)
	go func() {
		defer client.Close()
		done <- client.Call(method, args, decoded.Interface())
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}

		target.Elem().Set(decoded.Elem())
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *source) login(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uid != 0 {
		return s.uid, nil
	}

	var uid int64
	err := s.call(ctx, commonEndpoint, "authenticate", []interface{}{s.db, s.username, s.password, map[string]interface{}{}}, &uid)
	if err != nil {
		return 0, errors.Wrap(err, "failed to authenticate against odoo")
	}

	if uid == 0 {
		return 0, AuthenticationFailedErr
	}

	s.logger.WithField("uid", uid).WithField("db", s.db).Info("authenticated with odoo")
	s.uid = uid

	return uid, nil
}

func (s *source) execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) ([]map[string]interface{}, error) {
	uid, err := s.login(ctx)
	if err != nil {
		return nil, err
	}

	var reply []interface{}
	err = s.call(ctx, objectEndpoint, "execute_kw", []interface{}{s.db, uid, s.password, model, method, args, kwargs}, &reply)
	if err != nil {
		return nil, errors.Wrapf(err, "%s.%s failed", model, method)
	}

	records := make([]map[string]interface{}, 0, len(reply))
	for _, r := range reply {
		if record, ok := r.(map[string]interface{}); ok {
			records = append(records, record)
		}
	}

	return records, nil
}

func (s *source) findOne(ctx context.Context, model, ref string, fields []string) (map[string]interface{}, error) {
	records, err := s.execute(ctx, model, "search_read",
		[]interface{}{[]interface{}{[]interface{}{"name", "=", ref}}},
		map[string]interface{}{"fields": fields, "limit": 1},
	)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, errors.Wrapf(RecordNotFoundErr, "%s %s", model, ref)
	}

	return records[0], nil
}

func (s *source) read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]interface{}, error) {
	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			values = append(values, id)
		}
	}

	if len(values) == 0 {
		return nil, nil
	}

	return s.execute(ctx, model, "read", []interface{}{values}, map[string]interface{}{"fields": fields})
}

type contact struct {
	name, mobile, phone, countryCode string
}

func (s *source) partner(ctx context.Context, value interface{}) (contact, error) {
	id, name := many2one(value)
	p := contact{name: name}

	records, err := s.read(ctx, "res.partner", []int64{id}, []string{"name", "mobile", "phone", "country_id"})
	if err != nil || len(records) == 0 {
		return p, err
	}

	p.name = text(records[0]["name"])
	p.mobile = text(records[0]["mobile"])
	p.phone = text(records[0]["phone"])

	countryId, _ := many2one(records[0]["country_id"])
	countries, err := s.read(ctx, "res.country", []int64{countryId}, []string{"phone_code"})
	if err != nil {
		return p, err
	}

	if len(countries) > 0 {
		p.countryCode = text(countries[0]["phone_code"])
	}

	return p, nil
}

func (s *source) Order(ctx context.Context, ref string) (dispatch.OrderContext, error) {
	order := dispatch.OrderContext{Name: ref}

	record, err := s.findOne(ctx, "sale.order", ref, []string{
		"name", "partner_id", "amount_total", "date_order", "user_id", "company_id", "state", "currency_id", "order_line",
	})
	if err != nil {
		return order, err
	}

	p, err := s.partner(ctx, record["partner_id"])
	if err != nil {
		return order, err
	}

	_, order.UserName = many2one(record["user_id"])
	_, order.CompanyName = many2one(record["company_id"])

	order.Name = text(record["name"])
	order.PartnerName = p.name
	order.PartnerMobile = p.mobile
	order.PartnerPhone = p.phone
	order.CountryCode = p.countryCode
	order.AmountTotal = number(record["amount_total"])
	order.DateOrder = timestamp(record["date_order"])
	order.StateLabel = orderStates[text(record["state"])]

	currencyId, _ := many2one(record["currency_id"])
	currencies, err := s.read(ctx, "res.currency", []int64{currencyId}, []string{"symbol"})
	if err != nil {
		return order, err
	}

	if len(currencies) > 0 {
		order.CurrencySymbol = text(currencies[0]["symbol"])
	}

	lines, err := s.read(ctx, "sale.order.line", ids(record["order_line"]), []string{"product_id"})
	if err != nil {
		return order, err
	}

	for _, line := range lines {
		// section and note lines carry no product
		if _, product := many2one(line["product_id"]); product != "" {
			order.ProductNames = append(order.ProductNames, product)
		}
	}

	return order, nil
}

func (s *source) Delivery(ctx context.Context, ref string) (dispatch.DeliveryContext, error) {
	delivery := dispatch.DeliveryContext{Name: ref}

	record, err := s.findOne(ctx, "stock.picking", ref, []string{
		"name", "partner_id", "origin", "carrier_id", "carrier_tracking_ref", "company_id", "scheduled_date",
	})
	if err != nil {
		return delivery, err
	}

	p, err := s.partner(ctx, record["partner_id"])
	if err != nil {
		return delivery, err
	}

	_, delivery.CompanyName = many2one(record["company_id"])

	delivery.Name = text(record["name"])
	delivery.PartnerName = p.name
	delivery.PartnerMobile = p.mobile
	delivery.PartnerPhone = p.phone
	delivery.CountryCode = p.countryCode
	delivery.Origin = text(record["origin"])
	delivery.ScheduledDate = timestamp(record["scheduled_date"])

	if _, carrier := many2one(record["carrier_id"]); carrier != "" {
		delivery.Carrier = &carrier
	}

	if tracking := text(record["carrier_tracking_ref"]); tracking != "" {
		delivery.TrackingRef = &tracking
	}

	return delivery, nil
}

// Odoo sends false for every empty field, whatever its type.

func text(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}

	return ""
}

func number(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}

	return 0
}

func many2one(value interface{}) (int64, string) {
	pair, ok := value.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, ""
	}

	id, _ := pair[0].(int64)
	name, _ := pair[1].(string)

	return id, name
}

func ids(value interface{}) []int64 {
	list, _ := value.([]interface{})

	result := make([]int64, 0, len(list))
	for _, v := range list {
		if id, ok := v.(int64); ok {
			result = append(result, id)
		}
	}

	return result
}

func timestamp(value interface{}) *time.Time {
	raw := text(value)
	if raw == "" {
		return nil
	}

	for _, layout := range []string{datetimeLayout, dateLayout} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t
		}
	}

	return nil
}
