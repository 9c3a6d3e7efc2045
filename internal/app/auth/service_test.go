package auth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmandates/techmandates/internal/domain/identity"
	identitymem "github.com/techmandates/techmandates/internal/infra/storage/identity/memory"
	"github.com/techmandates/techmandates/pkg/common/logger"
)

func newService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	return NewService(identitymem.NewUserStore(), logger.New(io.Discard, logger.LevelDebug, "test", nil), opts...)
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	user, err := svc.Register(context.Background(), "Dev@Example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", user.Email(), "emails are normalized")

	session, err := svc.Login(context.Background(), "dev@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, user.ID(), session.UserID)

	userID, err := svc.Authenticate(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID(), userID)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	svc := newService(t)

	_, err := svc.Register(context.Background(), "not-an-email", "long enough password")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)

	_, err = svc.Register(context.Background(), "dev@example.com", "short")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	_, err := svc.Register(context.Background(), "dev@example.com", "long enough password")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "DEV@example.com", "another password here")
	require.ErrorIs(t, err, identity.ErrUserExists)
}

func TestLogin_WrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	_, err := svc.Register(context.Background(), "dev@example.com", "long enough password")
	require.NoError(t, err)

	_, errWrong := svc.Login(context.Background(), "dev@example.com", "wrong password entirely")
	_, errUnknown := svc.Login(context.Background(), "ghost@example.com", "whatever password")

	require.ErrorIs(t, errWrong, identity.ErrInvalidCredentials)
	require.ErrorIs(t, errUnknown, identity.ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errUnknown.Error(), "failures must be indistinguishable")
}

func TestAuthenticate_ExpiredSession(t *testing.T) {
	t.Parallel()

	svc := newService(t, WithSessionTTL(time.Millisecond))
	_, err := svc.Register(context.Background(), "dev@example.com", "long enough password")
	require.NoError(t, err)

	session, err := svc.Login(context.Background(), "dev@example.com", "long enough password")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.Authenticate(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestLogout(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	_, err := svc.Register(context.Background(), "dev@example.com", "long enough password")
	require.NoError(t, err)

	session, err := svc.Login(context.Background(), "dev@example.com", "long enough password")
	require.NoError(t, err)

	svc.Logout(context.Background(), session.Token)

	_, err = svc.Authenticate(context.Background(), session.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
}
