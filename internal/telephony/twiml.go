package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TwiMLRenderer turns a Response into Twilio Markup Language.
type TwiMLRenderer struct {
	SipDomain string
	// MessageBaseURL hosts the recorded prompts and sounds as <kind>.mp3.
	MessageBaseURL string
	// RecordingCallbackURL receives voicemail recordings; commId is appended.
	RecordingCallbackURL string
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    *int     `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName           xml.Name `xml:"Record"`
	RecordingCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
	MaxLength         int      `xml:"maxLength,attr"`
	PlayBeep          bool     `xml:"playBeep,attr"`
	FinishOnKey       string   `xml:"finishOnKey,attr"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	Action    string   `xml:"action,attr"`
	Method    string   `xml:"method,attr"`
	NumDigits int      `xml:"numDigits,attr"`
	Verbs     []any
}

type twimlDial struct {
	XMLName  xml.Name `xml:"Dial"`
	Action   string   `xml:"action,attr,omitempty"`
	Method   string   `xml:"method,attr,omitempty"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	Nouns    []any
}

type twimlNumber struct {
	XMLName        xml.Name `xml:"Number"`
	StatusCallback string   `xml:"statusCallback,attr,omitempty"`
	Events         string   `xml:"statusCallbackEvent,attr,omitempty"`
	Value          string   `xml:",chardata"`
}

type twimlSip struct {
	XMLName        xml.Name `xml:"Sip"`
	StatusCallback string   `xml:"statusCallback,attr,omitempty"`
	Events         string   `xml:"statusCallbackEvent,attr,omitempty"`
	URI            string   `xml:",chardata"`
}

type twimlConference struct {
	XMLName        xml.Name `xml:"Conference"`
	EndOnExit      bool     `xml:"endConferenceOnExit,attr"`
	StatusCallback string   `xml:"statusCallback,attr,omitempty"`
	Events         string   `xml:"statusCallbackEvent,attr,omitempty"`
	Room           string   `xml:",chardata"`
}

type twimlDialConference struct {
	XMLName xml.Name `xml:"Dial"`
	Conf    twimlConference
}

const dialLegEvents = "initiated ringing answered completed"

func (r TwiMLRenderer) Render(res Response) (string, error) {
	verbs, err := r.verbs(res.Actions)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(twimlResponse{Verbs: verbs}); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r TwiMLRenderer) verbs(actions []Action) ([]any, error) {
	out := make([]any, 0, len(actions))
	for _, a := range actions {
		switch v := a.(type) {
		case Hangup:
			out = append(out, twimlHangup{})
		case Pause:
			out = append(out, twimlPause{Length: seconds(v.Length)})
		case Message:
			out = append(out, twimlPlay{URL: r.assetURL(string(v.Kind))})
		case Play:
			loop := v.Loop
			out = append(out, twimlPlay{URL: r.assetURL(string(v.Sound)), Loop: &loop})
		case Redirect:
			if v.URL == "" {
				return nil, errors.New("telephony: redirect needs a url")
			}
			out = append(out, twimlRedirect{Method: "POST", URL: v.URL})
		case Voicemail:
			out = append(out,
				twimlPlay{URL: r.assetURL(string(v.Kind))},
				twimlRecord{
					RecordingCallback: r.recordingCallback(v.CommID),
					MaxLength:         120,
					PlayBeep:          true,
					FinishOnKey:       "#",
				},
				twimlHangup{},
			)
		case Gather:
			inner, err := r.verbs(v.Prompt)
			if err != nil {
				return nil, err
			}
			out = append(out, twimlGather{Action: v.ActionURL, Method: "POST", NumDigits: v.NumDigits, Verbs: inner})
		case Conference:
			if v.Room == "" {
				return nil, errors.New("telephony: conference needs a room")
			}
			conf := twimlConference{EndOnExit: v.EndOnExit, Room: v.Room}
			if v.CallbackURL != "" {
				conf.StatusCallback = v.CallbackURL
				conf.Events = "leave end"
			}
			out = append(out, twimlDialConference{Conf: conf})
		case Dial:
			d, err := r.dial(v)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		default:
			return nil, fmt.Errorf("telephony: unsupported action %T", a)
		}
	}
	return out, nil
}

func (r TwiMLRenderer) dial(v Dial) (twimlDial, error) {
	if len(v.SipUsernames) == 0 && len(v.Numbers) == 0 {
		return twimlDial{}, errors.New("telephony: dial needs at least one target")
	}
	d := twimlDial{
		Action:   v.ActionURL,
		Method:   "POST",
		CallerID: v.CallerID,
		Timeout:  seconds(v.Timeout),
	}
	events := ""
	if v.CallbackURL != "" {
		events = dialLegEvents
	}
	for _, u := range v.SipUsernames {
		d.Nouns = append(d.Nouns, twimlSip{
			StatusCallback: v.CallbackURL,
			Events:         events,
			URI:            SipURI(u, r.SipDomain, v.Headers),
		})
	}
	for _, n := range v.Numbers {
		d.Nouns = append(d.Nouns, twimlNumber{StatusCallback: v.CallbackURL, Events: events, Value: n})
	}
	return d, nil
}

func (r TwiMLRenderer) assetURL(name string) string {
	return strings.TrimRight(r.MessageBaseURL, "/") + "/" + name + ".mp3"
}

func (r TwiMLRenderer) recordingCallback(commID string) string {
	if r.RecordingCallbackURL == "" || commID == "" {
		return r.RecordingCallbackURL
	}
	u, err := url.Parse(r.RecordingCallbackURL)
	if err != nil {
		return r.RecordingCallbackURL
	}
	q := u.Query()
	q.Set("commId", commID)
	u.RawQuery = q.Encode()
	return u.String()
}

func seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
