package courierconf

import (
	"testing"

	"github.com/BearBump/BoiPrint/config"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/fake"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/pathao"
	"github.com/stretchr/testify/require"
)

func TestClient_SelectsByMode(t *testing.T) {
	_, ok := Client(config.PathaoConfig{Mode: "fake"}).(*fake.FakeClient)
	require.True(t, ok)

	_, ok = Client(config.PathaoConfig{Mode: "pathao", BaseURL: "http://localhost:9000"}).(*pathao.Client)
	require.True(t, ok)

	_, ok = Client(config.PathaoConfig{}).(*pathao.Client)
	require.True(t, ok)
}

func TestTokenRequest_DefaultsGrantType(t *testing.T) {
	req := TokenRequest(config.PathaoConfig{ClientID: "cid", Username: "u", Password: "p"})
	require.Equal(t, "password", req.GrantType)
	require.Equal(t, "cid", req.ClientID)
}

func TestSession_StartsEmpty(t *testing.T) {
	m := Session(fake.New(), config.PathaoConfig{Mode: "fake"})
	require.Equal(t, "Empty", string(m.Snapshot().State))
}
