package protocol_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/jrsteele09/go-identity-bridge/identity"
	"github.com/jrsteele09/go-identity-bridge/internal/utils"
	"github.com/jrsteele09/go-identity-bridge/protocol"
	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/jrsteele09/go-identity-bridge/session"
	"github.com/jrsteele09/go-identity-bridge/transport"
	"github.com/jrsteele09/go-identity-bridge/transport/transportfakes"
	"github.com/stretchr/testify/require"
)

const (
	testOwner     = "BC1YLowner"
	testDerived   = "BC1YLderived"
	testSignature = "3045022100sig"
	loginCallback = "desomobile://login?publicKeyAdded=" + testOwner + `&users=%7B%22BC1YLowner%22%3A%7B%22hasExtraText%22%3Afalse%7D%7D&signedUp=false`
	waitLimit     = 2 * time.Second
)

var deriveCallback = "desomobile://derive?derivedPublicKeyBase58Check=" + testDerived +
	"&accessSignature=" + testSignature +
	"&transactionSpendingLimitHex=00aa&jwt=primary-jwt&derivedJwt=derived-jwt&expirationBlock=987654"

type testFixture struct {
	backend *securestore.Memory
	store   *session.Store
	adapter *transportfakes.Adapter
	machine *protocol.Machine
	logins  []protocol.LoginEvent
	derives []protocol.DeriveEvent
}

func setupTestFixture(t *testing.T, opts ...protocol.Option) *testFixture {
	t.Helper()
	f := &testFixture{
		backend: securestore.NewMemory(),
		adapter: transportfakes.NewAdapter(transport.KindSystemBrowser),
	}
	f.store = session.NewStore(f.backend)
	opts = append([]protocol.Option{
		protocol.WithOnLogin(func(e protocol.LoginEvent) { f.logins = append(f.logins, e) }),
		protocol.WithOnDerive(func(e protocol.DeriveEvent) { f.derives = append(f.derives, e) }),
		protocol.WithIDGenerator(func() string { return "attempt-1" }),
	}, opts...)
	f.machine = protocol.New(identity.NewProvider(), f.adapter, f.store, opts...)
	return f
}

// authenticate runs a full login and derive.
func (f *testFixture) authenticate(t *testing.T) {
	t.Helper()
	f.adapter.Push(transportfakes.Callback(loginCallback), transportfakes.Callback(deriveCallback))
	_, err := f.machine.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, protocol.StateAuthenticated, f.machine.State())
}

func TestMachine_LoginAndDerive(t *testing.T) {
	f := setupTestFixture(t)
	f.adapter.Push(transportfakes.Callback(loginCallback), transportfakes.Callback(deriveCallback))

	res, err := f.machine.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, protocol.StateAuthenticated, f.machine.State())

	sess := res.Session
	require.Equal(t, testOwner, sess.OwnerPublicKey)
	require.Equal(t, testDerived, utils.Value(sess.DerivedPublicKey))
	require.Equal(t, testSignature, utils.Value(sess.AccessSignature))
	require.Equal(t, "00aa", utils.Value(sess.SpendingLimitHex))
	require.Equal(t, "primary-jwt", utils.Value(sess.PrimaryToken))
	require.Equal(t, "derived-jwt", utils.Value(sess.DerivedToken))
	require.Equal(t, int64(987654), utils.Value(sess.ExpirationBlock))
	require.Equal(t, sess, f.machine.Session())

	t.Run("provider urls", func(t *testing.T) {
		calls := f.adapter.Calls()
		require.Len(t, calls, 2)

		login, err := url.Parse(calls[0].TargetURL)
		require.NoError(t, err)
		require.Equal(t, "/log-in", login.Path)
		require.Equal(t, "desomobile://login", login.Query().Get("callback"))
		require.Equal(t, "desomobile://login", calls[0].CallbackPrefix)
		require.Equal(t, "login", calls[0].Flow)

		derive, err := url.Parse(calls[1].TargetURL)
		require.NoError(t, err)
		require.Equal(t, "/derive", derive.Path)
		require.Equal(t, testOwner, derive.Query().Get("publicKey"))
		require.Contains(t, derive.Query().Get("transactionSpendingLimitResponse"), `"GlobalDESOLimit":100000000`)
		require.Contains(t, calls[1].ResultKeys, "accessSignature")
	})

	t.Run("notifications", func(t *testing.T) {
		require.Len(t, f.logins, 1)
		require.Equal(t, testOwner, f.logins[0].PublicKey)
		require.False(t, utils.Value(f.logins[0].SignedUp))
		accounts, err := f.logins[0].Accounts()
		require.NoError(t, err)
		require.Contains(t, accounts, testOwner)

		require.Len(t, f.derives, 1)
		require.Equal(t, testDerived, utils.Value(f.derives[0].Session.DerivedPublicKey))
	})

	t.Run("persisted", func(t *testing.T) {
		reloaded, err := session.NewStore(f.backend).Load(context.Background())
		require.NoError(t, err)
		require.Equal(t, sess, reloaded)

		lp, err := f.store.LoginPayload(context.Background())
		require.NoError(t, err)
		require.Equal(t, testOwner, lp.LastPublicKey)
		require.Contains(t, lp.Users, testOwner)
	})
}

func TestMachine_LoginFailures(t *testing.T) {
	t.Run("cancel returns to idle without writing", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(transportfakes.Cancelled())

		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, protocol.ErrUserCancelled))
		require.Equal(t, protocol.StateIdle, f.machine.State())
		require.Equal(t, 0, f.backend.Len())
		require.True(t, f.machine.Session().IsEmpty())
		require.Empty(t, f.logins)
		require.Equal(t, 1, f.adapter.CallCount())
	})

	t.Run("timeout", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(transportfakes.TimedOut())

		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, protocol.ErrTimeout))
		require.Equal(t, protocol.StateIdle, f.machine.State())
	})

	t.Run("callback without public key", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(transportfakes.Callback("desomobile://login?signedUp=true"))

		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, protocol.ErrAuthFailure))
		require.Equal(t, protocol.StateIdle, f.machine.State())
		require.Equal(t, 1, f.adapter.CallCount())
	})

	t.Run("transport cannot open", func(t *testing.T) {
		f := setupTestFixture(t)
		boom := errors.New("no surface")
		f.adapter.Push(transportfakes.Fail(boom))

		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, boom))
		require.Equal(t, protocol.StateIdle, f.machine.State())
	})

	t.Run("new login wipes previous account", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authenticate(t)

		f.adapter.Push(transportfakes.Callback("desomobile://login?publicKey=OTHER"))
		res, err := f.machine.Login(context.Background(), protocol.WithoutDerive())
		require.NoError(t, err)
		require.Equal(t, protocol.StateIdle, f.machine.State())
		require.Equal(t, session.Session{OwnerPublicKey: "OTHER"}, res.Session)

		reloaded, err := session.NewStore(f.backend).Load(context.Background())
		require.NoError(t, err)
		require.Nil(t, reloaded.DerivedPublicKey)
		require.Nil(t, reloaded.AccessSignature)
	})
}

func TestMachine_Derive(t *testing.T) {
	t.Run("missing access signature", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(
			transportfakes.Callback(loginCallback),
			transportfakes.Callback("desomobile://derive?derivedPublicKeyBase58Check="+testDerived),
		)

		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, protocol.ErrIncompleteDerivation))
		require.Equal(t, protocol.StateIdle, f.machine.State())

		sess := f.machine.Session()
		require.Equal(t, testOwner, sess.OwnerPublicKey)
		require.Nil(t, sess.DerivedPublicKey)
		require.Nil(t, sess.AccessSignature)
		require.Empty(t, f.derives)
	})

	t.Run("derive if needed after login only", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(transportfakes.Callback(loginCallback))
		_, err := f.machine.Login(context.Background(), protocol.WithoutDerive())
		require.NoError(t, err)

		encoded := base64.StdEncoding.EncodeToString([]byte(`{"derivedPublicKeyBase58Check":"XYZ","accessSignature":"sig"}`))
		f.adapter.Push(transportfakes.Callback(encoded))
		sess, err := f.machine.DeriveIfNeeded(context.Background())
		require.NoError(t, err)
		require.Equal(t, "XYZ", utils.Value(sess.DerivedPublicKey))
		require.Equal(t, "sig", utils.Value(sess.AccessSignature))
		require.Equal(t, protocol.StateAuthenticated, f.machine.State())
	})

	t.Run("derive if needed is a no-op when derived", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authenticate(t)
		calls := f.adapter.CallCount()

		sess, err := f.machine.DeriveIfNeeded(context.Background())
		require.NoError(t, err)
		require.True(t, sess.IsDerived())
		require.Equal(t, calls, f.adapter.CallCount())
	})

	t.Run("derive requires an owner", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.machine.DeriveIfNeeded(context.Background())
		require.True(t, errors.Is(err, protocol.ErrNotAuthorized))
		require.Equal(t, 0, f.adapter.CallCount())
	})

	t.Run("missing derived key", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(transportfakes.Callback(loginCallback), transportfakes.Callback("desomobile://derive?accessSignature=S"))
		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, protocol.ErrAuthFailure))
	})

	t.Run("cancelled derive", func(t *testing.T) {
		f := setupTestFixture(t)
		f.adapter.Push(transportfakes.Callback(loginCallback), transportfakes.Cancelled())
		_, err := f.machine.Login(context.Background())
		require.True(t, errors.Is(err, protocol.ErrUserCancelled))
		require.Equal(t, protocol.StateIdle, f.machine.State())
		require.False(t, f.machine.Session().HasDerivedKey())
	})

	t.Run("store failure commits nothing", func(t *testing.T) {
		f := setupTestFixture(t)
		f.backend.FailSet = func(key string) error {
			if key == session.KeyDerivedToken {
				return errors.New("keychain unavailable")
			}
			return nil
		}
		f.adapter.Push(transportfakes.Callback(loginCallback), transportfakes.Callback(deriveCallback))

		_, err := f.machine.Login(context.Background())
		require.Error(t, err)
		require.Equal(t, protocol.StateIdle, f.machine.State())
		require.Equal(t, session.Session{OwnerPublicKey: testOwner}, f.machine.Session())

		_, ok, err := f.backend.Get(context.Background(), session.KeyAccessSignature)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestMachine_SignTransaction(t *testing.T) {
	t.Run("owner only is not authorized", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.Save(context.Background(), session.Session{OwnerPublicKey: testOwner}))
		_, err := f.machine.Restore(context.Background())
		require.NoError(t, err)

		_, err = f.machine.SignTransaction(context.Background(), "0a0b")
		require.True(t, errors.Is(err, protocol.ErrNotAuthorized))
		require.Equal(t, 0, f.adapter.CallCount())
		require.Equal(t, protocol.StateIdle, f.machine.State())
	})

	t.Run("derived key without signature", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.store.Save(context.Background(), session.Session{OwnerPublicKey: testOwner, DerivedPublicKey: utils.Ptr(testDerived)}))
		_, err := f.machine.Restore(context.Background())
		require.NoError(t, err)

		_, err = f.machine.SignTransaction(context.Background(), "0a0b")
		require.True(t, errors.Is(err, protocol.ErrIncompleteDerivation))
		require.Equal(t, 0, f.adapter.CallCount())
	})

	t.Run("signed value under any alias", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authenticate(t)
		before := f.machine.Session()

		f.adapter.Push(transportfakes.Callback("desomobile://sign?TxHex=0a0bsigned"))
		signed, err := f.machine.SignTransaction(context.Background(), "0a0b")
		require.NoError(t, err)
		require.Equal(t, "0a0bsigned", signed)
		require.Equal(t, protocol.StateAuthenticated, f.machine.State())
		require.Equal(t, before, f.machine.Session())

		approve, err := url.Parse(f.adapter.Calls()[2].TargetURL)
		require.NoError(t, err)
		require.Equal(t, "/approve", approve.Path)
		require.Equal(t, "0a0b", approve.Query().Get("tx"))
	})

	t.Run("missing signed value", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authenticate(t)

		f.adapter.Push(transportfakes.Callback("desomobile://sign?status=ok"))
		_, err := f.machine.SignTransaction(context.Background(), "0a0b")
		require.True(t, errors.Is(err, protocol.ErrSigningFailure))
		require.Equal(t, protocol.StateAuthenticated, f.machine.State())
	})

	t.Run("cancel keeps authenticated", func(t *testing.T) {
		f := setupTestFixture(t)
		f.authenticate(t)

		f.adapter.Push(transportfakes.Cancelled())
		_, err := f.machine.SignTransaction(context.Background(), "0a0b")
		require.True(t, errors.Is(err, protocol.ErrUserCancelled))
		require.Equal(t, protocol.StateAuthenticated, f.machine.State())
		require.True(t, f.machine.Session().IsDerived())
	})

	t.Run("empty transaction", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.machine.SignTransaction(context.Background(), " ")
		require.True(t, errors.Is(err, protocol.ErrInvalidTransaction))
	})

	t.Run("per flow adapter", func(t *testing.T) {
		signAdapter := transportfakes.NewAdapter(transport.KindMessageRelay, transportfakes.Callback(`{"signedTransactionHex":"ff"}`))
		f := setupTestFixture(t, protocol.WithFlowAdapter(identity.FlowSign, signAdapter))
		f.authenticate(t)

		signed, err := f.machine.SignTransaction(context.Background(), "0a0b")
		require.NoError(t, err)
		require.Equal(t, "ff", signed)
		require.Equal(t, 1, signAdapter.CallCount())
		require.Equal(t, 2, f.adapter.CallCount())
	})
}

func TestMachine_Concurrency(t *testing.T) {
	f := setupTestFixture(t, protocol.WithTimeout(time.Minute))
	release := make(chan struct{})
	f.adapter.Push(transportfakes.Block(release, transportfakes.Callback(loginCallback)))

	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Login(context.Background(), protocol.WithoutDerive())
		done <- err
	}()

	select {
	case <-f.adapter.Entered():
	case <-time.After(waitLimit):
		t.Fatal("login did not reach the transport")
	}

	require.Equal(t, protocol.StateAwaitingLoginCallback, f.machine.State())
	attempt, ok := f.machine.CurrentAttempt()
	require.True(t, ok)
	require.Equal(t, "attempt-1", attempt.ID)
	require.Equal(t, identity.FlowLogin, attempt.Flow)
	require.Equal(t, transport.KindSystemBrowser, attempt.Transport)
	require.Equal(t, "desomobile://login", attempt.CallbackPrefix)

	_, err := f.machine.Login(context.Background())
	require.True(t, errors.Is(err, protocol.ErrAlreadyInProgress))
	_, err = f.machine.SignTransaction(context.Background(), "0a")
	require.True(t, errors.Is(err, protocol.ErrAlreadyInProgress))
	require.True(t, errors.Is(f.machine.Logout(context.Background()), protocol.ErrAlreadyInProgress))

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitLimit):
		t.Fatal("login did not finish")
	}
	_, ok = f.machine.CurrentAttempt()
	require.False(t, ok)
	require.Equal(t, 1, f.adapter.CallCount())
}

func TestMachine_ContextCancel(t *testing.T) {
	f := setupTestFixture(t)
	f.adapter.Push(transportfakes.Block(make(chan struct{}), transportfakes.Cancelled()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Login(ctx)
		done <- err
	}()
	<-f.adapter.Entered()
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, protocol.ErrUserCancelled))
	case <-time.After(waitLimit):
		t.Fatal("login did not finish")
	}
	require.Equal(t, protocol.StateIdle, f.machine.State())
}

func TestMachine_RestoreAndLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.authenticate(t)

	restarted := protocol.New(identity.NewProvider(), f.adapter, session.NewStore(f.backend))
	sess, err := restarted.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, sess.IsDerived())
	require.Equal(t, protocol.StateAuthenticated, restarted.State())

	require.NoError(t, restarted.Logout(context.Background()))
	require.Equal(t, protocol.StateIdle, restarted.State())
	require.Equal(t, 0, f.backend.Len())
	require.True(t, restarted.Session().IsEmpty())
}

func TestState_String(t *testing.T) {
	require.Equal(t, "AwaitingDeriveCallback", protocol.StateAwaitingDeriveCallback.String())
	require.True(t, protocol.StateAuthenticated.IsResting())
	require.False(t, protocol.StateLoggingIn.IsResting())
}
