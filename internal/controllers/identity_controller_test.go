package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passcard/attest-service/internal/appattest"
	"github.com/passcard/attest-service/internal/devicestore"
	"github.com/passcard/attest-service/internal/dtos"
	"github.com/passcard/attest-service/internal/models"
)

func TestIdentityController_MissingAddressParam(t *testing.T) {
	store := devicestore.NewFileBackend(filepath.Join(t.TempDir(), "devices.json"))
	c := NewIdentityController(appattest.NewService(store, appattest.VerifyOptions{}), logrus.New())

	req := httptest.NewRequest(http.MethodGet, "/identity", nil)
	rec := httptest.NewRecorder()
	c.Lookup(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityController_NoBindingReturnsNullPassportHash(t *testing.T) {
	store := devicestore.NewFileBackend(filepath.Join(t.TempDir(), "devices.json"))
	c := NewIdentityController(appattest.NewService(store, appattest.VerifyOptions{}), logrus.New())

	req := httptest.NewRequest(http.MethodGet, "/identity?address=0xnobody", nil)
	rec := httptest.NewRecorder()
	c.Lookup(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dtos.IdentityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Nil(t, resp.PassportHash)
}

func TestIdentityController_ExistingBinding(t *testing.T) {
	store := devicestore.NewFileBackend(filepath.Join(t.TempDir(), "devices.json"))
	require.NoError(t, store.Put(context.Background(), &models.DeviceRecord{
		CredentialID: []byte{1, 2, 3},
		PublicKeyDER: []byte{4, 5, 6},
	}))
	require.NoError(t, store.UpdateAssertion(context.Background(), []byte{1, 2, 3}, 1, "0xABC", "myhash"))

	c := NewIdentityController(appattest.NewService(store, appattest.VerifyOptions{}), logrus.New())

	req := httptest.NewRequest(http.MethodGet, "/identity?address=0xabc", nil)
	rec := httptest.NewRecorder()
	c.Lookup(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dtos.IdentityResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.PassportHash)
	assert.Equal(t, "myhash", *resp.PassportHash)
}
