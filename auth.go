package surgo

import (
	"github.com/steveyegge/surgo/codec"
)

// Credentials is the opaque payload handed to Signin and Signup. The
// engine converts it to a wire value and never inspects it beyond
// that; the concrete shapes below cover the common access levels.
type Credentials interface {
	credentialsValue() (codec.Value, error)
}

// RootAuth authenticates as a root user.
type RootAuth struct {
	Username string `json:"user"`
	Password string `json:"pass"`
}

func (a RootAuth) credentialsValue() (codec.Value, error) { return codec.Encode(a) }

// NamespaceAuth authenticates as a namespace user.
type NamespaceAuth struct {
	Namespace string `json:"ns"`
	Username  string `json:"user"`
	Password  string `json:"pass"`
}

func (a NamespaceAuth) credentialsValue() (codec.Value, error) { return codec.Encode(a) }

// DatabaseAuth authenticates as a database user.
type DatabaseAuth struct {
	Namespace string `json:"ns"`
	Database  string `json:"db"`
	Username  string `json:"user"`
	Password  string `json:"pass"`
}

func (a DatabaseAuth) credentialsValue() (codec.Value, error) { return codec.Encode(a) }

// RecordAuth authenticates (or signs up) against a record access
// method. Variables carries the access method's SIGNIN/SIGNUP inputs,
// for example email and password fields.
type RecordAuth struct {
	Namespace string         `json:"ns"`
	Database  string         `json:"db"`
	Access    string         `json:"ac"`
	Variables map[string]any `json:"-"`
}

func (a RecordAuth) credentialsValue() (codec.Value, error) {
	v, err := codec.Encode(struct {
		Namespace string `json:"ns"`
		Database  string `json:"db"`
		Access    string `json:"ac"`
	}{a.Namespace, a.Database, a.Access})
	if err != nil {
		return codec.Value{}, err
	}
	obj, _ := v.Object()
	for k, raw := range a.Variables {
		ev, err := codec.Encode(raw)
		if err != nil {
			return codec.Value{}, err
		}
		obj[k] = ev
	}
	return codec.Object(obj), nil
}

// TokenAuth wraps a previously issued token for Authenticate-style
// signin flows.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) credentialsValue() (codec.Value, error) {
	return codec.String(a.Token), nil
}
