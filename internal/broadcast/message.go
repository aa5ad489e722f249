package broadcast

import (
	"encoding/json"
	"fmt"

	"sessionkit/internal/identity"
	"sessionkit/internal/sentinel"
)

// Kind is the wire discriminator of a Message.
type Kind string

const (
	KindLogin         Kind = "LOGIN"
	KindLogout        Kind = "LOGOUT"
	KindCompanySwitch Kind = "COMPANY_SWITCH"
)

// Message is a session-change notification. The set of implementations is
// closed: Login, Logout and CompanySwitch.
type Message interface {
	Kind() Kind
	sealed()
}

// Login announces a newly authenticated user.
type Login struct {
	User identity.User
}

// Logout announces that the session ended.
type Logout struct{}

// CompanySwitch announces the same user acting in another company.
type CompanySwitch struct {
	User identity.User
}

func (Login) Kind() Kind         { return KindLogin }
func (Logout) Kind() Kind        { return KindLogout }
func (CompanySwitch) Kind() Kind { return KindCompanySwitch }

func (Login) sealed()         {}
func (Logout) sealed()        {}
func (CompanySwitch) sealed() {}

// UserOf returns the user a message carries, if any.
func UserOf(m Message) (identity.User, bool) {
	switch m := m.(type) {
	case Login:
		return m.User, true
	case CompanySwitch:
		return m.User, true
	default:
		return identity.User{}, false
	}
}

type wireMessage struct {
	Type Kind           `json:"type"`
	User *identity.User `json:"user,omitempty"`
}

func toWire(m Message) (wireMessage, error) {
	switch m := m.(type) {
	case Login:
		u := m.User
		return wireMessage{Type: KindLogin, User: &u}, nil
	case Logout:
		return wireMessage{Type: KindLogout}, nil
	case CompanySwitch:
		u := m.User
		return wireMessage{Type: KindCompanySwitch, User: &u}, nil
	default:
		return wireMessage{}, fmt.Errorf("unknown message %T: %w", m, sentinel.ErrInvalidInput)
	}
}

func fromWire(w wireMessage) (Message, error) {
	switch w.Type {
	case KindLogin, KindCompanySwitch:
		if w.User == nil || w.User.ID == "" {
			return nil, fmt.Errorf("%s without user: %w", w.Type, sentinel.ErrInvalidInput)
		}
		if w.Type == KindLogin {
			return Login{User: *w.User}, nil
		}
		return CompanySwitch{User: *w.User}, nil
	case KindLogout:
		return Logout{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q: %w", w.Type, sentinel.ErrInvalidInput)
	}
}

// Encode renders m as {"type":...,"user":...}.
func Encode(m Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode parses a message produced by Encode.
func Decode(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return fromWire(w)
}

// Envelope is the frame carried by transports.
type Envelope struct {
	// ID is a ULID assigned by the publishing bus.
	ID string
	// Origin is the publishing tab. Empty when inferred from storage changes.
	Origin  string
	Message Message
}

type wireEnvelope struct {
	ID     string `json:"id"`
	Origin string `json:"origin,omitempty"`
	wireMessage
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	w, err := toWire(e.Message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{ID: e.ID, Origin: e.Origin, wireMessage: w})
}

func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	m, err := fromWire(w.wireMessage)
	if err != nil {
		return err
	}
	*e = Envelope{ID: w.ID, Origin: w.Origin, Message: m}
	return nil
}

// DecodeEnvelope parses a transport frame.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}
