package creds_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/secretsync/internal/creds"
	"github.com/TheMichaelB/secretsync/internal/models"
)

const document = `{
  "password": "default-password",
  "repositories": {
    "git@github.com:team/secrets.git": "flat-password",
    "git@github.com:team/other.git": {"password": "nested-password"}
  }
}`

func TestPasswordFor(t *testing.T) {
	c, err := creds.ParseCredentials([]byte(document))
	require.NoError(t, err)

	assert.Equal(t, "flat-password", c.PasswordFor("git@github.com:team/secrets.git"))
	assert.Equal(t, "nested-password", c.PasswordFor(" git@github.com:team/other.git "))
	assert.Equal(t, "default-password", c.PasswordFor("git@github.com:team/unknown.git"))
	assert.Equal(t, "default-password", c.PasswordFor(""))
}

func TestPasswordForWithoutDefault(t *testing.T) {
	c, err := creds.ParseCredentials([]byte(`{"repositories": {"git@h:r.git": "pw"}}`))
	require.NoError(t, err)

	assert.Equal(t, "pw", c.PasswordFor("git@h:r.git"))
	assert.Empty(t, c.PasswordFor("git@h:x.git"))
}

func TestParseCredentialsInvalid(t *testing.T) {
	_, err := creds.ParseCredentials([]byte("{"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(document), 0600))

	c, err := creds.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "default-password", c.Password)

	_, err = creds.LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, models.ErrFileSystem)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type mockSecrets struct {
	mock.Mock
}

func (m *mockSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	args := m.Called(aws.ToString(in.SecretId))
	if out := args.Get(0); out != nil {
		return out.(*secretsmanager.GetSecretValueOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestLoadFromSecretAPI(t *testing.T) {
	ctx := context.Background()

	t.Run("string payload", func(t *testing.T) {
		api := &mockSecrets{}
		api.On("GetSecretValue", "secretsync/prod").
			Return(&secretsmanager.GetSecretValueOutput{SecretString: aws.String(document)}, nil)

		c, err := creds.LoadFromSecretAPI(ctx, api, "secretsync/prod")
		require.NoError(t, err)
		assert.Equal(t, "flat-password", c.PasswordFor("git@github.com:team/secrets.git"))
		api.AssertExpectations(t)
	})

	t.Run("binary payload", func(t *testing.T) {
		api := &mockSecrets{}
		api.On("GetSecretValue", "bin").
			Return(&secretsmanager.GetSecretValueOutput{SecretBinary: []byte("x")}, nil)

		_, err := creds.LoadFromSecretAPI(ctx, api, "bin")
		assert.ErrorContains(t, err, "no string payload")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("api failure", func(t *testing.T) {
		api := &mockSecrets{}
		api.On("GetSecretValue", "missing").Return(nil, errors.New("ResourceNotFoundException"))

		_, err := creds.LoadFromSecretAPI(ctx, api, "missing")
		assert.ErrorContains(t, err, "ResourceNotFoundException")
		assert.ErrorIs(t, err, models.ErrFileSystem)
	})
}
