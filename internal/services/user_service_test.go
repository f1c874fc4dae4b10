package services

import (
	"context"
	"math"
	"testing"

	"wallet-ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_Register(t *testing.T) {
	tests := []struct {
		name    string
		req     models.RegisterRequest
		wantErr error
	}{
		{
			name: "valid user",
			req:  models.RegisterRequest{Username: "alice", Email: "Alice@Example.com ", PhoneNumber: "+905551112233"},
		},
		{
			name:    "short username",
			req:     models.RegisterRequest{Username: "al", Email: "al@example.com", PhoneNumber: "+905551112233"},
			wantErr: ErrValidation,
		},
		{
			name:    "bad email",
			req:     models.RegisterRequest{Username: "carol", Email: "not-an-email", PhoneNumber: "+905551112233"},
			wantErr: ErrValidation,
		},
		{
			name:    "bad phone",
			req:     models.RegisterRequest{Username: "dave", Email: "dave@example.com", PhoneNumber: "call me"},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			user, err := f.users.Register(context.Background(), &tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", user.Email)
			assert.True(t, user.Balance.IsZero())
			assert.NotZero(t, user.ID)
		})
	}
}

func TestUserService_Duplicates(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.register(t, "alice")

	_, err := f.users.Register(ctx, &models.RegisterRequest{Username: "alice", Email: "other@example.com", PhoneNumber: "+905551112233"})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	_, err = f.users.Register(ctx, &models.RegisterRequest{Username: "other", Email: "ALICE@example.com", PhoneNumber: "+905551112233"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestUserService_UpdateUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	alice := f.register(t, "alice")
	f.register(t, "bob")

	_, err := f.transactions.Credit(ctx, alice.ID, amount("25.00"), nil)
	require.NoError(t, err)

	name := "alicia"
	updated, err := f.users.UpdateUser(ctx, alice.ID, &models.UpdateUserRequest{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "alicia", updated.Username)
	assert.Equal(t, "25.00", f.balance(t, alice.ID))

	taken := "bob"
	_, err = f.users.UpdateUser(ctx, alice.ID, &models.UpdateUserRequest{Username: &taken})
	assert.ErrorIs(t, err, ErrDuplicateUser)

	phone := "nope"
	_, err = f.users.UpdateUser(ctx, alice.ID, &models.UpdateUserRequest{PhoneNumber: &phone})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.users.UpdateUser(ctx, 404, &models.UpdateUserRequest{Username: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserService_ListUsers(t *testing.T) {
	f := newFixture(t, nil, nil)
	for _, name := range []string{"alice", "bob", "carol"} {
		f.register(t, name)
	}

	result, err := f.users.ListUsers(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.TotalPages)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "carol", result.Items[0].Username)

	_, err = f.users.ListUsers(context.Background(), 0, 2)
	assert.ErrorIs(t, err, ErrInvalidPagination)

	_, err = f.users.ListUsers(context.Background(), math.MaxInt, 2)
	assert.ErrorIs(t, err, ErrInvalidPagination)
}
