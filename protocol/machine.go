package protocol

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-identity-bridge/identity"
	"github.com/jrsteele09/go-identity-bridge/internal/utils"
	"github.com/jrsteele09/go-identity-bridge/payload"
	"github.com/jrsteele09/go-identity-bridge/session"
	"github.com/jrsteele09/go-identity-bridge/spending"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Machine drives the login, derive and sign flows. Only one flow runs at a time; the state is
// guarded by a mutex that is never held while waiting on a transport.
type Machine struct {
	mu      sync.Mutex
	state   State
	attempt *Attempt

	provider     *identity.Provider
	adapter      transport.Adapter
	flowAdapters map[identity.Flow]transport.Adapter
	store        *session.Store
	scope        spending.Scope
	timeout      time.Duration

	onLogin  func(LoginEvent)
	onDerive func(DeriveEvent)

	logger zerolog.Logger
	newID  func() string
	now    func() time.Time
}

type Option func(*Machine)

// WithFlowAdapter overrides the default adapter for one flow.
func WithFlowAdapter(flow identity.Flow, adapter transport.Adapter) Option {
	return func(m *Machine) {
		m.flowAdapters[flow] = adapter
	}
}

func WithScope(scope spending.Scope) Option {
	return func(m *Machine) {
		m.scope = scope
	}
}

// WithTimeout bounds each provider round trip.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithOnLogin(fn func(LoginEvent)) Option {
	return func(m *Machine) {
		m.onLogin = fn
	}
}

func WithOnDerive(fn func(DeriveEvent)) Option {
	return func(m *Machine) {
		m.onDerive = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		m.newID = fn
	}
}

func WithNowTime(fn func() time.Time) Option {
	return func(m *Machine) {
		m.now = fn
	}
}

func New(provider *identity.Provider, adapter transport.Adapter, store *session.Store, opts ...Option) *Machine {
	m := &Machine{
		state:        StateIdle,
		provider:     provider,
		adapter:      adapter,
		flowAdapters: map[identity.Flow]transport.Adapter{},
		store:        store,
		scope:        spending.DefaultScope(),
		timeout:      transport.DefaultTimeout,
		logger:       log.Logger,
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Session() session.Session {
	return m.store.Current()
}

// CurrentAttempt returns the outstanding round trip, if any.
func (m *Machine) CurrentAttempt() (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt == nil {
		return Attempt{}, false
	}
	return *m.attempt, true
}

// Restore loads the persisted session and rests in Authenticated when it can sign.
func (m *Machine) Restore(ctx context.Context) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsResting() {
		return session.Session{}, errors.Wrap(ErrAlreadyInProgress, "[Machine.Restore]")
	}
	sess, err := m.store.Load(ctx)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "[Machine.Restore] load session")
	}
	if sess.IsDerived() {
		m.state = StateAuthenticated
	} else {
		m.state = StateIdle
	}
	return sess, nil
}

// Login wipes any prior session, asks the provider for an account and then, unless
// WithoutDerive is given, derives a signing key for it.
func (m *Machine) Login(ctx context.Context, opts ...LoginOption) (*LoginResult, error) {
	lo := loginOptions{derive: true}
	for _, opt := range opts {
		opt(&lo)
	}

	if err := m.enter(StateLoggingIn); err != nil {
		return nil, errors.Wrap(err, "[Machine.Login]")
	}

	event, err := m.login(ctx)
	if err != nil {
		m.settle(StateIdle)
		return nil, errors.Wrap(err, "[Machine.Login]")
	}
	result := &LoginResult{Login: event}

	if !lo.derive {
		m.settle(StateIdle)
		result.Session = m.store.Current()
		return result, nil
	}

	m.setState(StateDerivingKey)
	sess, err := m.derive(ctx)
	if err != nil {
		m.settle(StateIdle)
		return nil, errors.Wrap(err, "[Machine.Login]")
	}
	m.settle(StateAuthenticated)
	result.Session = sess
	return result, nil
}

// DeriveIfNeeded obtains a derived key for the logged-in owner unless the session already has
// one with its access signature.
func (m *Machine) DeriveIfNeeded(ctx context.Context) (session.Session, error) {
	m.mu.Lock()
	if !m.state.IsResting() {
		m.mu.Unlock()
		return session.Session{}, errors.Wrap(ErrAlreadyInProgress, "[Machine.DeriveIfNeeded]")
	}
	current := m.store.Current()
	if current.IsDerived() {
		m.state = StateAuthenticated
		m.mu.Unlock()
		return current, nil
	}
	if !current.IsLoggedIn() {
		m.mu.Unlock()
		return session.Session{}, errors.Wrap(ErrNotAuthorized, "[Machine.DeriveIfNeeded] no owner public key")
	}
	m.state = StateDerivingKey
	m.mu.Unlock()

	sess, err := m.derive(ctx)
	if err != nil {
		m.settle(StateIdle)
		return session.Session{}, errors.Wrap(err, "[Machine.DeriveIfNeeded]")
	}
	m.settle(StateAuthenticated)
	return sess, nil
}

// SignTransaction has the provider sign the hex-encoded transaction with the derived key. The
// session is not changed by signing.
func (m *Machine) SignTransaction(ctx context.Context, unsignedHex string) (string, error) {
	unsignedHex = strings.TrimSpace(unsignedHex)
	if unsignedHex == "" {
		return "", errors.Wrap(ErrInvalidTransaction, "[Machine.SignTransaction]")
	}

	m.mu.Lock()
	if !m.state.IsResting() {
		m.mu.Unlock()
		return "", errors.Wrap(ErrAlreadyInProgress, "[Machine.SignTransaction]")
	}
	current := m.store.Current()
	if m.state != StateAuthenticated || !current.IsDerived() {
		m.mu.Unlock()
		if current.HasDerivedKey() && !current.IsDerived() {
			return "", errors.Wrap(ErrIncompleteDerivation, "[Machine.SignTransaction]")
		}
		return "", errors.Wrap(ErrNotAuthorized, "[Machine.SignTransaction]")
	}
	m.state = StateAwaitingSignCallback
	m.mu.Unlock()
	defer m.settle(StateAuthenticated)

	fields, err := m.roundTrip(ctx, identity.FlowSign, StateAwaitingSignCallback, signResultKeys,
		func(cb identity.Callback) (string, error) {
			return m.provider.ApproveURL(cb.URL, unsignedHex), nil
		})
	if err != nil {
		return "", errors.Wrap(err, "[Machine.SignTransaction]")
	}

	signed, ok := fields.First(signedTxAliases...)
	if !ok {
		return "", errors.Wrap(ErrSigningFailure, "[Machine.SignTransaction]")
	}
	return signed, nil
}

// Logout clears the stored session.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsResting() {
		return errors.Wrap(ErrAlreadyInProgress, "[Machine.Logout]")
	}
	m.state = StateIdle
	if err := m.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "[Machine.Logout]")
	}
	return nil
}

func (m *Machine) login(ctx context.Context) (LoginEvent, error) {
	// A new login never inherits credentials from the previous account.
	if err := m.store.Clear(ctx); err != nil {
		return LoginEvent{}, errors.Wrap(err, "clear previous session")
	}

	fields, err := m.roundTrip(ctx, identity.FlowLogin, StateAwaitingLoginCallback, loginResultKeys,
		func(cb identity.Callback) (string, error) {
			return m.provider.LoginURL(cb.URL), nil
		})
	if err != nil {
		return LoginEvent{}, err
	}

	owner, ok := fields.First(ownerKeyAliases...)
	if !ok {
		return LoginEvent{}, ErrAuthFailure
	}
	if err := m.store.Save(ctx, session.Session{OwnerPublicKey: owner}); err != nil {
		return LoginEvent{}, errors.Wrap(err, "save owner public key")
	}

	event := LoginEvent{PublicKey: owner, Fields: fields}
	event.Users, _ = fields.First(usersAliases...)
	if raw, ok := fields.First(signedUpAliases...); ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			event.SignedUp = &b
		}
	}

	err = m.store.SaveLoginPayload(ctx, session.LoginPayload{
		Users:         event.Users,
		LastPublicKey: owner,
		SignedUp:      event.SignedUp,
	})
	if err != nil {
		m.logger.Err(err).Msg("saving login payload")
	}

	if m.onLogin != nil {
		m.onLogin(event)
	}
	return event, nil
}

func (m *Machine) derive(ctx context.Context) (session.Session, error) {
	owner := m.store.Current().OwnerPublicKey
	limit, err := spending.Build(m.scope)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "build spending limit")
	}

	fields, err := m.roundTrip(ctx, identity.FlowDerive, StateAwaitingDeriveCallback, deriveResultKeys,
		func(cb identity.Callback) (string, error) {
			return m.provider.DeriveURL(cb.URL, owner, limit)
		})
	if err != nil {
		return session.Session{}, err
	}

	derived, ok := fields.First(derivedKeyAliases...)
	if !ok {
		return session.Session{}, ErrAuthFailure
	}
	signature, ok := fields.First(accessSignatureAliases...)
	if !ok {
		return session.Session{}, ErrIncompleteDerivation
	}

	update := session.Session{DerivedPublicKey: &derived, AccessSignature: &signature}
	update.SpendingLimitHex = optional(fields, spendingLimitAliases)
	update.PrimaryToken = optional(fields, primaryTokenAliases)
	update.DerivedToken = optional(fields, derivedTokenAliases)
	if raw, ok := fields.First(expirationBlockAliases...); ok {
		if block, err := strconv.ParseInt(raw, 10, 64); err == nil {
			update.ExpirationBlock = &block
		} else {
			m.logger.Warn().Msg("ignoring non-numeric expiration block")
		}
	}

	if err := m.store.Save(ctx, update); err != nil {
		return session.Session{}, errors.Wrap(err, "save derived key")
	}
	sess := m.store.Current()

	if m.onDerive != nil {
		m.onDerive(DeriveEvent{Session: sess.Clone(), Fields: fields})
	}
	return sess, nil
}

// roundTrip opens the provider for one flow and decodes the callback. The state moves to
// waitState for the duration of the wait.
func (m *Machine) roundTrip(ctx context.Context, flow identity.Flow, waitState State, resultKeys []string,
	buildURL func(identity.Callback) (string, error)) (payload.Fields, error) {
	adapter := m.adapterFor(flow)
	if adapter == nil {
		return nil, errors.Errorf("no transport adapter configured for %s", flow)
	}
	cb := m.provider.Callback(flow, adapter.Kind())
	target, err := buildURL(cb)
	if err != nil {
		return nil, err
	}

	attempt := &Attempt{
		ID:             m.newID(),
		Flow:           flow,
		Transport:      adapter.Kind(),
		Deadline:       m.now().Add(m.timeout),
		CallbackPrefix: cb.Prefix,
	}
	m.mu.Lock()
	m.state = waitState
	m.attempt = attempt
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.attempt = nil
		m.mu.Unlock()
	}()

	logger := m.logger.With().Str("attempt", attempt.ID).Str("flow", string(flow)).Logger()
	logger.Info().Str("transport", string(attempt.Transport)).Msg("opening identity provider")

	res, err := adapter.Open(ctx, transport.Request{
		AttemptID:      attempt.ID,
		Flow:           string(flow),
		TargetURL:      target,
		CallbackPrefix: cb.Prefix,
		ResultKeys:     resultKeys,
		Timeout:        m.timeout,
	})
	if err != nil {
		logger.Err(err).Msg("transport failed to open")
		return nil, errors.Wrap(err, "open transport")
	}

	switch res.Outcome {
	case transport.OutcomeCallback:
		logger.Info().Str("source", res.Source).Msg("identity provider called back")
		return payload.Decode(res.Raw), nil
	case transport.OutcomeCancelled:
		logger.Info().Msg("identity provider cancelled")
		return nil, ErrUserCancelled
	case transport.OutcomeTimedOut:
		logger.Warn().Dur("timeout", m.timeout).Msg("identity provider timed out")
		return nil, ErrTimeout
	}
	return nil, errors.Errorf("unexpected transport outcome %s", res.Outcome)
}

func (m *Machine) adapterFor(flow identity.Flow) transport.Adapter {
	if a, ok := m.flowAdapters[flow]; ok && a != nil {
		return a
	}
	return m.adapter
}

// enter moves from a resting state into a flow's first state.
func (m *Machine) enter(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsResting() {
		return ErrAlreadyInProgress
	}
	m.state = state
	return nil
}

func (m *Machine) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// settle returns the machine to a resting state.
func (m *Machine) settle(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.attempt = nil
}

func optional(fields payload.Fields, aliases []string) *string {
	if v, ok := fields.First(aliases...); ok {
		return utils.Ptr(v)
	}
	return nil
}
