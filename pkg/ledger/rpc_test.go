package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyCache struct{}

func (emptyCache) SaveAccount(*Account) error                         { return nil }
func (emptyCache) LoadAccount(AccountID) (*Account, error)            { return nil, nil }
func (emptyCache) SaveConsumable(AccountID, []ConsumableNote) error   { return nil }
func (emptyCache) LoadConsumable(AccountID) ([]ConsumableNote, error) { return nil, nil }
func (emptyCache) SaveSyncHeight(uint64) error                        { return nil }
func (emptyCache) LoadSyncHeight() (uint64, error)                    { return 0, nil }
func (emptyCache) Track(AccountID) error                              { return nil }
func (emptyCache) TrackedAccounts() ([]AccountID, error)              { return nil, nil }

func TestRPCClient_NotFoundOnlyMeansAccountOnAccountRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no route "+r.URL.Path, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRPCClient(srv.URL, emptyCache{}, nil)
	ctx := context.Background()

	err := c.ImportAccount(ctx, testAccount(t, 1, 2))
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = c.CompileNoteScript(ctx, ScriptSource{Name: "swap", Source: "begin end"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Contains(t, err.Error(), "/v1/scripts/compile")

	_, err = c.SubmitTransaction(ctx, &SignedTransaction{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
	assert.Contains(t, err.Error(), "HTTP 404")
}
