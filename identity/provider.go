package identity

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-identity-bridge/spending"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/pkg/errors"
)

const (
	DefaultHost        = "identity.deso.org"
	DefaultAppScheme   = "desomobile"
	DefaultAccessLevel = 2
)

// Flow is one provider round trip.
type Flow string

const (
	FlowLogin  Flow = "login"
	FlowDerive Flow = "derive"
	FlowSign   Flow = "sign"
)

var ErrMissingPublicKey = errors.New("identity: public key is required")

// Provider builds the outbound identity-provider URLs and the callback targets the provider
// is told to return to.
type Provider struct {
	host        string
	relayBase   string
	appScheme   string
	linkBase    string
	accessLevel int
	testnet     bool
}

type Option func(*Provider)

// WithHost overrides the provider host ("identity.deso.org"). A scheme, if given, is dropped.
func WithHost(host string) Option {
	return func(p *Provider) {
		host = strings.TrimSpace(host)
		host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
		p.host = strings.TrimSuffix(host, "/")
	}
}

// WithRelayBase sets the bridge page the provider redirects to before the app deep link.
func WithRelayBase(relayBase string) Option {
	return func(p *Provider) {
		p.relayBase = strings.TrimSpace(relayBase)
	}
}

func WithAppScheme(scheme string) Option {
	return func(p *Provider) {
		p.appScheme = strings.TrimSuffix(strings.TrimSpace(scheme), "://")
	}
}

// WithLinkBase replaces the deep-link scheme with an http base for hosts that receive
// callbacks over loopback, e.g. "http://127.0.0.1:8080/callback" gives
// "http://127.0.0.1:8080/callback/login".
func WithLinkBase(base string) Option {
	return func(p *Provider) {
		p.linkBase = strings.TrimSuffix(strings.TrimSpace(base), "/")
	}
}

// WithAccessLevel sets the single access level used for both login and derive requests.
func WithAccessLevel(level int) Option {
	return func(p *Provider) {
		p.accessLevel = level
	}
}

func WithTestnet(testnet bool) Option {
	return func(p *Provider) {
		p.testnet = testnet
	}
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		host:        DefaultHost,
		appScheme:   DefaultAppScheme,
		accessLevel: DefaultAccessLevel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) AppScheme() string {
	return p.appScheme
}

func (p *Provider) RelayBase() string {
	return p.relayBase
}

// DeepLink is the app URL the flow finally lands on, e.g. "desomobile://login".
func (p *Provider) DeepLink(flow Flow) string {
	if p.linkBase != "" {
		return p.linkBase + "/" + string(flow)
	}
	return p.appScheme + "://" + string(flow)
}

// Callback is where the provider is sent back to and the prefix a transport must watch for.
type Callback struct {
	URL    string
	Prefix string
}

// Callback builds the callback target for a flow. With a relay page configured the provider
// returns to "<relay>?kind=<flow>#redirect=<deep link>"; otherwise straight to the deep link.
// The prefix depends on where the chosen transport can observe the return: the system browser
// only sees the final deep link, embedded surfaces see the relay page.
func (p *Provider) Callback(flow Flow, kind transport.Kind) Callback {
	deepLink := p.DeepLink(flow)
	if p.relayBase == "" {
		return Callback{URL: deepLink, Prefix: deepLink}
	}

	u := p.relayBase + sep(p.relayBase) + "kind=" + url.QueryEscape(string(flow)) +
		"#redirect=" + url.QueryEscape(deepLink)

	switch kind {
	case transport.KindNavigationIntercept, transport.KindMessageRelay:
		return Callback{URL: u, Prefix: p.relayBase}
	default:
		return Callback{URL: u, Prefix: deepLink}
	}
}

func (p *Provider) LoginURL(callback string) string {
	q := url.Values{}
	q.Set("callback", callback)
	q.Set("webview", "true")
	q.Set("accessLevelRequest", strconv.Itoa(p.accessLevel))
	return p.endpoint("log-in", q)
}

// DeriveURL requests a derived key for publicKey bounded by limit.
func (p *Provider) DeriveURL(callback, publicKey string, limit spending.Limit) (string, error) {
	if strings.TrimSpace(publicKey) == "" {
		return "", ErrMissingPublicKey
	}
	limitJSON, err := limit.JSON()
	if err != nil {
		return "", errors.Wrap(err, "[Provider.DeriveURL] encode spending limit")
	}
	q := url.Values{}
	q.Set("callback", callback)
	q.Set("publicKey", publicKey)
	q.Set("accessLevel", strconv.Itoa(p.accessLevel))
	q.Set("derive", "true")
	q.Set("transactionSpendingLimitResponse", limitJSON)
	q.Set("webview", "true")
	if p.testnet {
		q.Set("testnet", "true")
	}
	return p.endpoint("derive", q), nil
}

// ApproveURL asks the provider to sign the hex-encoded transaction.
func (p *Provider) ApproveURL(callback, unsignedTxHex string) string {
	q := url.Values{}
	q.Set("callback", callback)
	q.Set("tx", unsignedTxHex)
	q.Set("webview", "true")
	if p.testnet {
		q.Set("testnet", "true")
	}
	return p.endpoint("approve", q)
}

func (p *Provider) endpoint(path string, q url.Values) string {
	u := url.URL{Scheme: "https", Host: p.host, Path: "/" + path, RawQuery: q.Encode()}
	return u.String()
}

func sep(base string) string {
	if strings.Contains(base, "?") {
		return "&"
	}
	return "?"
}
