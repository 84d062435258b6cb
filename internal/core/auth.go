package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp/totp"
)

var (
	// ErrAuthentication wraps every sign-in failure.
	ErrAuthentication = errors.New("authentication failed")
	// ErrSecondFactorRequired means a one-time code was requested during a
	// headless run with no TOTP secret configured.
	ErrSecondFactorRequired = errors.New("one-time code required but no TOTP secret configured")
)

// signInMarkers matches any page the sign-in sequence knows how to handle.
var signInMarkers = SelectorEmail + ", " + SelectorClaimed + ", " + SelectorLibrary

// AuthState names a step of the sign-in sequence.
type AuthState int

const (
	StateNavigating AuthState = iota
	StateAlreadyAuthenticated
	StateNeedsEmail
	StateNeedsPassword
	StateNeedsCode
	StateVerifying
	StateAuthenticated
	StateFailed
)

var authStateNames = map[AuthState]string{
	StateNavigating:           "navigating",
	StateAlreadyAuthenticated: "already_authenticated",
	StateNeedsEmail:           "needs_email",
	StateNeedsPassword:        "needs_password",
	StateNeedsCode:            "needs_code",
	StateVerifying:            "verifying",
	StateAuthenticated:        "authenticated",
	StateFailed:               "failed",
}

func (s AuthState) String() string {
	if name, ok := authStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("AuthState(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s AuthState) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed
}

// Credentials are the account secrets used to sign in.
type Credentials struct {
	Email      string
	Password   string
	TOTPSecret string
}

// AuthOptions tunes the Sequencer. Zero values fall back to the defaults in
// constants.go.
type AuthOptions struct {
	URL string
	// Headless runs cannot wait for an operator to type a one-time code.
	Headless      bool
	LoginTimeout  time.Duration
	VerifyTimeout time.Duration
	ManualTimeout time.Duration
	SettleDelay   time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o AuthOptions) withDefaults() AuthOptions {
	if o.URL == "" {
		o.URL = NotebookURL
	}
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = DefaultVerifyTimeout
	}
	if o.ManualTimeout <= 0 {
		o.ManualTimeout = DefaultManualTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Sequencer signs in to the notebook. Each state is handled by one method
// that inspects the page and returns the next state, so every branch can be
// driven from a fake Page.
type Sequencer struct {
	page  Page
	creds Credentials
	opts  AuthOptions

	state AuthState
	err   error
	trail []AuthState
}

// NewSequencer returns a Sequencer in StateNavigating.
func NewSequencer(page Page, creds Credentials, opts AuthOptions) *Sequencer {
	return &Sequencer{
		page:  page,
		creds: creds,
		opts:  opts.withDefaults(),
		state: StateNavigating,
		trail: []AuthState{StateNavigating},
	}
}

// State returns the current state.
func (s *Sequencer) State() AuthState { return s.state }

// Trail returns every state visited so far, in order.
func (s *Sequencer) Trail() []AuthState {
	return append([]AuthState(nil), s.trail...)
}

// Run steps the machine until it reaches a terminal state. It returns nil
// only when signed in; failures wrap ErrAuthentication.
func (s *Sequencer) Run(ctx context.Context) error {
	for !s.state.Terminal() {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	if s.state == StateFailed {
		return s.err
	}
	return nil
}

// Step performs a single transition. It returns the failure that moved the
// machine into StateFailed, if any.
func (s *Sequencer) Step(ctx context.Context) error {
	var (
		next AuthState
		err  error
	)
	switch s.state {
	case StateNavigating:
		next, err = s.navigate(ctx)
	case StateAlreadyAuthenticated:
		slog.Info("session reused, already signed in")
		next = StateAuthenticated
	case StateNeedsEmail:
		next, err = s.enterEmail(ctx)
	case StateNeedsPassword:
		next, err = s.enterPassword(ctx)
	case StateNeedsCode:
		next, err = s.enterCode(ctx)
	case StateVerifying:
		next, err = s.verify(ctx)
	default:
		return s.err
	}

	if err != nil {
		s.err = fmt.Errorf("%w: %s: %w", ErrAuthentication, s.state, err)
		next = StateFailed
		slog.Error("sign-in failed", "state", s.state.String(), "error", err)
	}
	s.transition(next)
	return s.err
}

func (s *Sequencer) transition(next AuthState) {
	if next != s.state {
		slog.Debug("sign-in transition", "from", s.state.String(), "to", next.String())
	}
	s.state = next
	s.trail = append(s.trail, next)
}

func (s *Sequencer) navigate(ctx context.Context) (AuthState, error) {
	slog.Info("opening notebook", "url", s.opts.URL)
	if err := s.page.Navigate(ctx, s.opts.URL); err != nil {
		return StateFailed, fmt.Errorf("navigate: %w", err)
	}
	if err := s.page.WaitFor(ctx, signInMarkers, s.opts.LoginTimeout); err != nil {
		return StateFailed, fmt.Errorf("waiting for sign-in form or library: %w", err)
	}

	signedIn, err := s.present(ctx, SelectorLibrary)
	if err != nil {
		return StateFailed, err
	}
	if signedIn {
		return StateAlreadyAuthenticated, nil
	}
	return StateNeedsEmail, nil
}

func (s *Sequencer) enterEmail(ctx context.Context) (AuthState, error) {
	hasEmail, err := s.present(ctx, SelectorEmail)
	if err != nil {
		return StateFailed, err
	}
	if hasEmail {
		slog.Info("entering email")
		if err := s.page.Fill(ctx, SelectorEmail, s.creds.Email); err != nil {
			return StateFailed, fmt.Errorf("fill email: %w", err)
		}
		if err := s.submit(ctx, SelectorEmailSubmit); err != nil {
			return StateFailed, err
		}
		return StateNeedsPassword, nil
	}

	claimed, err := s.present(ctx, SelectorClaimed)
	if err != nil {
		return StateFailed, err
	}
	if claimed {
		canContinue, err := s.present(ctx, SelectorContinue)
		if err != nil {
			return StateFailed, err
		}
		if canContinue {
			slog.Info("account pre-selected, continuing to password")
			if err := s.submit(ctx, SelectorContinue); err != nil {
				return StateFailed, err
			}
		}
	}
	return StateNeedsPassword, nil
}

func (s *Sequencer) enterPassword(ctx context.Context) (AuthState, error) {
	hasPassword, err := s.present(ctx, SelectorPassword)
	if err != nil {
		return StateFailed, err
	}
	if hasPassword {
		slog.Info("entering password")
		if err := s.page.Fill(ctx, SelectorPassword, s.creds.Password); err != nil {
			return StateFailed, fmt.Errorf("fill password: %w", err)
		}
		if err := s.submit(ctx, SelectorSignIn); err != nil {
			return StateFailed, err
		}
	}

	needsCode, err := s.present(ctx, SelectorOTP)
	if err != nil {
		return StateFailed, err
	}
	if needsCode {
		return StateNeedsCode, nil
	}
	return StateVerifying, nil
}

func (s *Sequencer) enterCode(ctx context.Context) (AuthState, error) {
	if s.creds.TOTPSecret != "" {
		code, err := totp.GenerateCode(s.creds.TOTPSecret, s.opts.Now())
		if err != nil {
			return StateFailed, fmt.Errorf("generate one-time code: %w", err)
		}
		slog.Info("entering one-time code")
		if err := s.page.Fill(ctx, SelectorOTP, code); err != nil {
			return StateFailed, fmt.Errorf("fill one-time code: %w", err)
		}
		if err := s.submit(ctx, SelectorOTPSubmit); err != nil {
			return StateFailed, err
		}
		return StateVerifying, nil
	}

	if s.opts.Headless {
		return StateFailed, ErrSecondFactorRequired
	}

	slog.Warn("one-time code required, complete it in the browser window", "timeout", s.opts.ManualTimeout)
	if err := s.page.WaitFor(ctx, SelectorLibrary, s.opts.ManualTimeout); err != nil {
		return StateFailed, fmt.Errorf("waiting for manual one-time code: %w", err)
	}
	return StateVerifying, nil
}

func (s *Sequencer) verify(ctx context.Context) (AuthState, error) {
	if err := s.page.WaitFor(ctx, SelectorLibrary, s.opts.VerifyTimeout); err != nil {
		return StateFailed, fmt.Errorf("waiting for library: %w", err)
	}
	slog.Info("signed in")
	return StateAuthenticated, nil
}

func (s *Sequencer) submit(ctx context.Context, selector string) error {
	if err := s.page.Click(ctx, selector); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return s.opts.Sleep(ctx, s.opts.SettleDelay)
}

func (s *Sequencer) present(ctx context.Context, selector string) (bool, error) {
	n, err := s.page.Count(ctx, selector)
	if err != nil {
		return false, fmt.Errorf("count %s: %w", selector, err)
	}
	return n > 0, nil
}
