package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

var testCreds = Credentials{Email: "reader@example.com", Password: "hunter2"}

func testAuthOptions(headless bool) AuthOptions {
	return AuthOptions{
		URL:      "https://notebook.test/notebook",
		Headless: headless,
		Now:      func() time.Time { return time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC) },
		Sleep:    noSleep,
	}
}

// signInLeadsTo makes clicking selector reveal next.
func signInLeadsTo(steps map[string]string) func(*fakePage, string) error {
	return func(f *fakePage, selector string) error {
		if next, ok := steps[selector]; ok {
			f.set(next, 1)
		}
		return nil
	}
}

func TestSequencerAlreadyAuthenticated(t *testing.T) {
	page := newFakePage(SelectorLibrary)
	seq := NewSequencer(page, testCreds, testAuthOptions(true))

	require.NoError(t, seq.Run(context.Background()))

	assert.Equal(t, []AuthState{StateNavigating, StateAlreadyAuthenticated, StateAuthenticated}, seq.Trail())
	assert.Equal(t, []string{"https://notebook.test/notebook"}, page.navigated)
	assert.Empty(t, page.fills)
	assert.Empty(t, page.clicks)
}

func TestSequencerEmailAndPassword(t *testing.T) {
	page := newFakePage(SelectorEmail, SelectorPassword)
	page.onClick = signInLeadsTo(map[string]string{SelectorSignIn: SelectorLibrary})
	seq := NewSequencer(page, testCreds, testAuthOptions(true))

	require.NoError(t, seq.Run(context.Background()))

	assert.Equal(t, []AuthState{
		StateNavigating, StateNeedsEmail, StateNeedsPassword, StateVerifying, StateAuthenticated,
	}, seq.Trail())
	assert.Equal(t, "reader@example.com", page.fills[SelectorEmail])
	assert.Equal(t, "hunter2", page.fills[SelectorPassword])
	assert.Equal(t, []string{SelectorEmailSubmit, SelectorSignIn}, page.clicks)
}

func TestSequencerPreselectedAccount(t *testing.T) {
	page := newFakePage(SelectorClaimed, SelectorContinue, SelectorPassword)
	page.onClick = signInLeadsTo(map[string]string{SelectorSignIn: SelectorLibrary})
	seq := NewSequencer(page, testCreds, testAuthOptions(true))

	require.NoError(t, seq.Run(context.Background()))

	assert.Equal(t, StateAuthenticated, seq.State())
	_, filledEmail := page.fills[SelectorEmail]
	assert.False(t, filledEmail)
	assert.Equal(t, []string{SelectorContinue, SelectorSignIn}, page.clicks)
}

func TestSequencerTOTP(t *testing.T) {
	creds := testCreds
	creds.TOTPSecret = testTOTPSecret
	opts := testAuthOptions(true)

	page := newFakePage(SelectorEmail, SelectorPassword)
	page.onClick = signInLeadsTo(map[string]string{
		SelectorSignIn:    SelectorOTP,
		SelectorOTPSubmit: SelectorLibrary,
	})
	seq := NewSequencer(page, creds, opts)

	require.NoError(t, seq.Run(context.Background()))

	want, err := totp.GenerateCode(testTOTPSecret, opts.Now())
	require.NoError(t, err)
	assert.Equal(t, want, page.fills[SelectorOTP])
	assert.Equal(t, []AuthState{
		StateNavigating, StateNeedsEmail, StateNeedsPassword, StateNeedsCode, StateVerifying, StateAuthenticated,
	}, seq.Trail())
}

func TestSequencerSecondFactorHeadless(t *testing.T) {
	page := newFakePage(SelectorEmail, SelectorPassword)
	page.onClick = signInLeadsTo(map[string]string{SelectorSignIn: SelectorOTP})
	seq := NewSequencer(page, testCreds, testAuthOptions(true))

	err := seq.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, ErrSecondFactorRequired)
	assert.Equal(t, StateFailed, seq.State())
	assert.NotContains(t, page.fills, SelectorOTP)
}

func TestSequencerSecondFactorManual(t *testing.T) {
	page := newFakePage(SelectorEmail, SelectorPassword)
	page.onClick = signInLeadsTo(map[string]string{SelectorSignIn: SelectorOTP})
	var manualWait time.Duration
	page.onWait = func(f *fakePage, selector string, timeout time.Duration) {
		if selector == SelectorLibrary && timeout == DefaultManualTimeout {
			manualWait = timeout
			f.set(SelectorLibrary, 1)
		}
	}
	seq := NewSequencer(page, testCreds, testAuthOptions(false))

	require.NoError(t, seq.Run(context.Background()))

	assert.Equal(t, DefaultManualTimeout, manualWait)
	assert.Equal(t, StateAuthenticated, seq.State())
}

func TestSequencerSecondFactorManualTimeout(t *testing.T) {
	page := newFakePage(SelectorEmail, SelectorPassword)
	page.onClick = signInLeadsTo(map[string]string{SelectorSignIn: SelectorOTP})
	seq := NewSequencer(page, testCreds, testAuthOptions(false))

	err := seq.Run(context.Background())

	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, []AuthState{
		StateNavigating, StateNeedsEmail, StateNeedsPassword, StateNeedsCode, StateFailed,
	}, seq.Trail())
}

func TestSequencerFailures(t *testing.T) {
	tests := []struct {
		name    string
		page    func() *fakePage
		wantErr error
	}{
		{
			name:    "nothing loads",
			page:    func() *fakePage { return newFakePage() },
			wantErr: ErrWaitTimeout,
		},
		{
			name: "navigation error",
			page: func() *fakePage {
				p := newFakePage(SelectorLibrary)
				p.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
				return p
			},
		},
		{
			name:    "library never appears after password",
			page:    func() *fakePage { return newFakePage(SelectorEmail, SelectorPassword) },
			wantErr: ErrWaitTimeout,
		},
		{
			name: "click fails",
			page: func() *fakePage {
				p := newFakePage(SelectorEmail)
				p.onClick = func(*fakePage, string) error { return errors.New("detached") }
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequencer(tt.page(), testCreds, testAuthOptions(true))
			err := seq.Run(context.Background())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuthentication)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, StateFailed, seq.State())
			assert.Equal(t, err, seq.Step(context.Background()))
			assert.Equal(t, StateFailed, seq.State())
		})
	}
}

func TestSequencerBadTOTPSecret(t *testing.T) {
	creds := testCreds
	creds.TOTPSecret = "not base32!"
	page := newFakePage(SelectorEmail, SelectorPassword, SelectorOTP)
	seq := NewSequencer(page, creds, testAuthOptions(true))

	err := seq.Run(context.Background())

	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, StateFailed, seq.State())
}

func TestAuthStateString(t *testing.T) {
	assert.Equal(t, "needs_code", StateNeedsCode.String())
	assert.Equal(t, "AuthState(42)", AuthState(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateVerifying.Terminal())
}
