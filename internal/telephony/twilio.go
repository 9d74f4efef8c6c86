package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"leasing-telephony/pkg/logger"
)

// Registrations reports whether a SIP username currently holds a registration.
type Registrations interface {
	IsRegistered(ctx context.Context, username string) (bool, error)
}

// TwilioOps implements Ops on the Twilio REST API.
type TwilioOps struct {
	client     *twilio.RestClient
	accountSID string
	sipDomain  string
	regs       Registrations
	log        *slog.Logger
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	SipDomain  string
}

func NewTwilioOps(cfg TwilioConfig, regs Registrations, log *slog.Logger) *TwilioOps {
	return &TwilioOps{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		accountSID: cfg.AccountSID,
		sipDomain:  cfg.SipDomain,
		regs:       regs,
		log:        logger.OrDiscard(log),
	}
}

// HealthCheck fetches the account, the lightest authenticated call the API offers.
func (o *TwilioOps) HealthCheck(ctx context.Context) error {
	if _, err := o.client.Api.FetchAccount(o.accountSID); err != nil {
		return fmt.Errorf("twilio: fetch account: %w", err)
	}
	return nil
}

func (o *TwilioOps) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	to, err := o.destination(req)
	if err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(req.From)
	params.SetUrl(req.AnswerURL)
	params.SetMethod(http.MethodPost)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent([]string{"answered", "completed"})
	}
	if req.RingTimeout > 0 {
		params.SetTimeout(int(req.RingTimeout.Seconds()))
	}
	if req.MachineDetection {
		params.SetMachineDetection("Enable")
	}

	resp, err := o.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create call to %s: %w", to, err)
	}
	if resp.Sid == nil {
		return "", errors.New("twilio: create call returned no sid")
	}
	o.log.Debug("call placed", "call_sid", *resp.Sid, "to", to)
	return *resp.Sid, nil
}

func (o *TwilioOps) destination(req PlaceCallRequest) (string, error) {
	switch {
	case req.SipUsername != "":
		return SipURI(req.SipUsername, o.sipDomain, req.Headers), nil
	case req.Number != "":
		return req.Number, nil
	}
	return "", errors.New("telephony: place call needs a sip username or a number")
}

// LiveCalls lists ringing and in-progress calls.
func (o *TwilioOps) LiveCalls(ctx context.Context) ([]LiveCall, error) {
	var out []LiveCall
	for _, status := range []string{"ringing", "in-progress"} {
		params := &twilioApi.ListCallParams{}
		params.SetStatus(status)
		calls, err := o.client.Api.ListCall(params)
		if err != nil {
			return nil, fmt.Errorf("twilio: list %s calls: %w", status, err)
		}
		for _, c := range calls {
			out = append(out, toLiveCall(c))
		}
	}
	return out, nil
}

func (o *TwilioOps) GetLiveCall(ctx context.Context, callID string) (LiveCall, error) {
	c, err := o.client.Api.FetchCall(callID, nil)
	if err != nil {
		if isNotFound(err) {
			return LiveCall{}, ErrCallNotFound
		}
		return LiveCall{}, fmt.Errorf("twilio: fetch call %s: %w", callID, err)
	}
	lc := toLiveCall(*c)
	if !liveStatus(lc.Status) {
		return LiveCall{}, ErrCallNotFound
	}
	return lc, nil
}

// TransferCall points the live call at new call-control instructions.
func (o *TwilioOps) TransferCall(ctx context.Context, callID, target string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetUrl(target)
	params.SetMethod(http.MethodPost)
	if _, err := o.client.Api.UpdateCall(callID, params); err != nil {
		if isNotFound(err) {
			return ErrCallNotFound
		}
		return fmt.Errorf("twilio: transfer call %s: %w", callID, err)
	}
	return nil
}

func (o *TwilioOps) HangupCall(ctx context.Context, callID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := o.client.Api.UpdateCall(callID, params); err != nil {
		if isNotFound(err) {
			return ErrCallNotFound
		}
		return fmt.Errorf("twilio: hang up call %s: %w", callID, err)
	}
	return nil
}

// GetEndpoint reports registration state. Twilio exposes no registration API, so this
// reads the registrations kept from the SIP domain's registration events.
func (o *TwilioOps) GetEndpoint(ctx context.Context, username string) (Endpoint, error) {
	if o.regs == nil {
		return Endpoint{Username: username}, errors.New("telephony: no registration source")
	}
	ok, err := o.regs.IsRegistered(ctx, username)
	if err != nil {
		return Endpoint{Username: username}, err
	}
	return Endpoint{Username: username, Registered: ok}, nil
}

func toLiveCall(c twilioApi.ApiV2010Call) LiveCall {
	return LiveCall{
		ID:     deref(c.Sid),
		From:   deref(c.From),
		To:     deref(c.To),
		Status: deref(c.Status),
	}
}

func liveStatus(s string) bool {
	switch s {
	case "queued", "ringing", "in-progress":
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var rest *twilioclient.TwilioRestError
	return errors.As(err, &rest) && rest.Status == http.StatusNotFound
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SipURI builds sip:user@domain with headers encoded as URI parameters, the form the
// provider turns into custom X- headers.
func SipURI(username, domain string, headers map[string]string) string {
	uri := "sip:" + username
	if domain != "" && !strings.Contains(username, "@") {
		uri += "@" + domain
	}
	if len(headers) == 0 {
		return uri
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(headers[k]))
	}
	return uri + "?" + strings.Join(parts, "&")
}
