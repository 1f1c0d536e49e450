package authpw

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"kiritara/api/internal/store"
)

type mockAdminStore struct {
	byEmail map[string]store.AdminUser
}

func newMockAdminStore() *mockAdminStore {
	return &mockAdminStore{byEmail: make(map[string]store.AdminUser)}
}

func (m *mockAdminStore) GetAdminByEmail(_ context.Context, email string) (store.AdminUser, error) {
	user, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return store.AdminUser{}, store.ErrNotFound
	}
	return user, nil
}

func (m *mockAdminStore) CreateAdmin(_ context.Context, user store.AdminUser) (store.AdminUser, error) {
	key := strings.ToLower(user.Email)
	if _, ok := m.byEmail[key]; ok {
		return store.AdminUser{}, store.ErrConflict
	}
	user.ID = "11111111-1111-1111-1111-111111111111"
	m.byEmail[key] = user
	return user, nil
}

func (m *mockAdminStore) CountAdmins(context.Context) (int, error) {
	return len(m.byEmail), nil
}

func newTestService(st AdminStore) *Service {
	return &Service{store: st, cost: bcrypt.MinCost}
}

func TestBootstrapCreatesFirstAdminOnce(t *testing.T) {
	st := newMockAdminStore()
	svc := newTestService(st)
	ctx := context.Background()

	created, err := svc.Bootstrap(ctx, "owner@kiritara.test", "correct-horse")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "owner", st.byEmail["owner@kiritara.test"].DisplayName)
	assert.Equal(t, "admin", st.byEmail["owner@kiritara.test"].Role)

	created, err = svc.Bootstrap(ctx, "second@kiritara.test", "correct-horse")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestBootstrapSkipsWhenUnconfigured(t *testing.T) {
	created, err := newTestService(newMockAdminStore()).Bootstrap(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestBootstrapRejectsWeakPassword(t *testing.T) {
	_, err := newTestService(newMockAdminStore()).Bootstrap(context.Background(), "owner@kiritara.test", "short")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestSignIn(t *testing.T) {
	svc := newTestService(newMockAdminStore())
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, "owner@kiritara.test", "correct-horse")
	require.NoError(t, err)

	user, err := svc.SignIn(ctx, " Owner@Kiritara.test ", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "owner@kiritara.test", user.Email)

	_, err = svc.SignIn(ctx, "owner@kiritara.test", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "nobody@kiritara.test", "correct-horse")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, "", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
