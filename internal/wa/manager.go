package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	ErrAlreadyPaired = errors.New("already paired")
	ErrNotPaired     = errors.New("not paired")
)

// State is the coarse connection state of the account.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateLoggedOut    State = "logged_out"
	StateReplaced     State = "replaced"
)

// Online reports whether messages can be sent in this state.
func (s State) Online() bool { return s == StateConnected }

// Status is a point-in-time view of the account.
type Status struct {
	State     State     `json:"state"`
	Paired    bool      `json:"paired"`
	Connected bool      `json:"connected"`
	LoggedIn  bool      `json:"logged_in"`
	Msisdn    string    `json:"msisdn,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Manager owns the single WhatsApp session used by the campaign.
type Manager struct {
	container *sqlstore.Container
	client    *whatsmeow.Client
	log       zerolog.Logger
	clientLog waLog.Logger

	pairingMu     sync.Mutex
	pairingActive bool
	lastQR        string

	mu        sync.Mutex
	state     State
	lastErr   string
	since     time.Time
	changed   chan struct{}
	listeners []func(State)
}

func NewManager(ctx context.Context, dsn string, log zerolog.Logger) (*Manager, error) {
	log = log.With().Str("component", "whatsapp").Logger()
	dbLog := waLog.Zerolog(log.With().Str("module", "Database").Logger().Level(zerolog.WarnLevel))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, dbLog)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	m := &Manager{
		container: container,
		log:       log,
		clientLog: waLog.Zerolog(log.With().Str("module", "Client").Logger()),
		state:     StateDisconnected,
		since:     time.Now(),
		changed:   make(chan struct{}),
	}
	m.client = whatsmeow.NewClient(device, m.clientLog)
	m.client.AddEventHandler(m.handleEvent)
	return m, nil
}

func (m *Manager) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		m.setState(StateConnected, "")
	case *events.Disconnected:
		m.setState(StateDisconnected, "")
	case *events.LoggedOut:
		m.setState(StateLoggedOut, e.Reason.String())
	case *events.StreamReplaced:
		m.setState(StateReplaced, "stream replaced by another session")
	case *events.PairSuccess:
		m.log.Info().Str("jid", e.ID.String()).Msg("pairing succeeded")
	case *events.ConnectFailure:
		m.setState(StateDisconnected, e.Reason.String())
	}
}

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) setState(s State, lastErr string) {
	m.mu.Lock()
	if m.state == s && m.lastErr == lastErr {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.lastErr = lastErr
	m.since = time.Now()
	close(m.changed)
	m.changed = make(chan struct{})
	listeners := append([]func(State)(nil), m.listeners...)
	m.mu.Unlock()

	ev := m.log.Info().Str("state", string(s))
	if lastErr != "" {
		ev = ev.Str("reason", lastErr)
	}
	ev.Msg("whatsapp state changed")
	for _, fn := range listeners {
		fn(s)
	}
}

// notifyChanged wakes Ready and pairing waiters without changing state.
func (m *Manager) notifyChanged() {
	m.mu.Lock()
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
}

// Status reports the current account state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{State: m.state, LastError: m.lastErr, Since: m.since}
	m.mu.Unlock()
	st.Paired = m.paired()
	st.Connected = m.client.IsConnected()
	st.LoggedIn = m.client.IsLoggedIn()
	if st.Paired {
		st.Msisdn = m.client.Store.ID.User
	}
	return st
}

// IsOnline reports whether the socket is up and authenticated.
func (m *Manager) IsOnline() bool {
	return m.client.IsConnected() && m.client.IsLoggedIn()
}

// Ready blocks until the account is online or ctx is done.
func (m *Manager) Ready(ctx context.Context) error {
	for {
		if m.IsOnline() {
			return nil
		}
		m.mu.Lock()
		ch := m.changed
		m.mu.Unlock()
		t := time.NewTimer(2 * time.Second)
		select {
		case <-ch:
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		t.Stop()
	}
}

// Client exposes the underlying whatsmeow client for the sender.
func (m *Manager) Client() *whatsmeow.Client { return m.client }

func (m *Manager) paired() bool {
	return m.client.Store != nil && m.client.Store.ID != nil
}

// ConnectIfPaired opens the socket for an already linked device.
func (m *Manager) ConnectIfPaired() error {
	if !m.paired() {
		return ErrNotPaired
	}
	if m.client.IsConnected() {
		return nil
	}
	m.setState(StateConnecting, "")
	m.log.Info().Msg("connecting")
	return m.client.Connect()
}

// startPairing opens the QR channel and connects, once per pairing attempt.
// Codes are pumped into lastQR so repeated requests see the newest one.
func (m *Manager) startPairing(kind string) error {
	m.pairingMu.Lock()
	defer m.pairingMu.Unlock()
	if m.pairingActive {
		return nil
	}
	// The channel outlives the HTTP request so the pairing socket stays open.
	qrChan, err := m.client.GetQRChannel(context.Background())
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	m.pairingActive = true
	m.lastQR = ""
	m.setState(StatePairing, "")
	m.log.Info().Str("method", kind).Msg("pairing: connecting")

	go func() {
		for item := range qrChan {
			switch item.Event {
			case "code":
				m.pairingMu.Lock()
				m.lastQR = item.Code
				m.pairingMu.Unlock()
				m.log.Info().Int("len", len(item.Code)).Msg("pairing: got qr code")
				m.notifyChanged()
			default:
				m.log.Info().Str("event", item.Event).Msg("pairing: qr channel event")
			}
		}
		m.resetPairing()
		m.notifyChanged()
	}()
	go func() {
		if err := m.client.Connect(); err != nil {
			m.log.Error().Err(err).Str("method", kind).Msg("pairing: connect failed")
			m.setState(StateDisconnected, err.Error())
		}
	}()
	return nil
}

func (m *Manager) currentQR() (string, bool) {
	m.pairingMu.Lock()
	defer m.pairingMu.Unlock()
	return m.lastQR, m.pairingActive
}

// StartPairing returns a QR code PNG and its raw payload for linking the
// device from the phone.
func (m *Manager) StartPairing(ctx context.Context) ([]byte, string, error) {
	if m.paired() {
		return nil, "", ErrAlreadyPaired
	}
	if err := m.startPairing("qr"); err != nil {
		return nil, "", err
	}
	for {
		m.mu.Lock()
		ch := m.changed
		m.mu.Unlock()

		code, active := m.currentQR()
		if code != "" {
			png, err := qrcode.Encode(code, qrcode.Medium, 256)
			if err != nil {
				return nil, "", err
			}
			return png, code, nil
		}
		if !active {
			if m.paired() {
				return nil, "", ErrAlreadyPaired
			}
			return nil, "", errors.New("qr pairing ended without a code")
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// RequestPairingCode links the device with a phone number instead of a QR
// scan and returns the code to type on the phone.
func (m *Manager) RequestPairingCode(ctx context.Context, msisdn string) (string, error) {
	if m.paired() {
		return "", ErrAlreadyPaired
	}
	if msisdn == "" {
		return "", errors.New("msisdn required")
	}
	if err := m.startPairing("number"); err != nil {
		return "", err
	}
	// PairPhone needs the socket up; wait for the first QR code or a short delay.
	t := time.NewTimer(time.Second)
	defer t.Stop()
	for {
		if code, _ := m.currentQR(); code != "" {
			break
		}
		m.mu.Lock()
		ch := m.changed
		m.mu.Unlock()
		select {
		case <-ch:
			continue
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		break
	}

	code, err := m.client.PairPhone(ctx, msisdn, false, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		m.log.Error().Err(err).Msg("pairing: PairPhone failed")
		return "", err
	}
	m.log.Info().Int("len", len(code)).Msg("pairing: got phone code")
	return code, nil
}

func (m *Manager) resetPairing() {
	m.pairingMu.Lock()
	m.pairingActive = false
	m.lastQR = ""
	m.pairingMu.Unlock()
}

// Logout unlinks the device and forgets its keys.
func (m *Manager) Logout(ctx context.Context) error {
	if !m.paired() {
		return ErrNotPaired
	}
	if err := m.client.Logout(ctx); err != nil {
		return err
	}
	m.resetPairing()
	m.setState(StateLoggedOut, "logged out by operator")
	return nil
}

// Close disconnects the socket and closes the device store.
func (m *Manager) Close() error {
	m.client.Disconnect()
	return m.container.Close()
}
