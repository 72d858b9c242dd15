package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"probity/core/events"
	"probity/core/types"
	"probity/native/fixedpoint"
	"probity/native/shutdown"
	"probity/scenario"
	"probity/storage"
	"probity/storage/journal"
)

var (
	gov   = common.HexToAddress("0xaa")
	alice = common.HexToAddress("0xa1")
	flr   = types.MustAssetID("FLR")
)

type fixture struct {
	world   *scenario.World
	store   *storage.MemDB
	journal *journal.Journal
	clock   *clock.Mock
	handler http.Handler
}

func newFixture(t *testing.T, auth AuthConfig, limit RateLimit) *fixture {
	t.Helper()
	gdb, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	journ, err := journal.New(gdb, nil)
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Add(1_700_000_000 * time.Second)
	world, err := scenario.NewWorld(scenario.Options{
		Self:        common.HexToAddress("0x5d0e"),
		ReservePool: common.HexToAddress("0x7e5e"),
		Config:      shutdown.DefaultConfig(),
		Governors:   []common.Address{gov},
		Assets:      []types.AssetID{flr},
		Clock:       mock,
		Emitter:     events.Fanout{journ},
	})
	require.NoError(t, err)
	require.NoError(t, world.Feed.UpdatePrice(flr, fixedpoint.Ray(1)))
	require.NoError(t, world.Ledger.Deposit(flr, alice, fixedpoint.Wad(100)))
	require.NoError(t, world.Ledger.ModifyDebt(flr, alice, fixedpoint.Wad(100).ToBig(), fixedpoint.Wad(150).ToBig()))

	store := storage.NewMemDB()
	srv := New(Config{
		Engine:      world.Engine,
		Store:       store,
		Journal:     journ,
		Auth:        auth,
		RateLimit:   limit,
		Replacement:   world.Replacement,
		Collaborators: world,
	})
	return &fixture{world: world, store: store, journal: journ, clock: mock, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, caller *common.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestOperatorLifecycle(t *testing.T) {
	f := newFixture(t, AuthConfig{}, RateLimit{})
	stranger := common.HexToAddress("0xee")

	rec := f.do(t, http.MethodPost, "/v1/shutdown/initiate", &stranger, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/shutdown/initiate", &gov, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[opResponse](t, rec)
	require.Equal(t, uint64(1), resp.Sequence)
	require.Equal(t, "initiated", resp.Phase)

	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/final-price", &gov, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/vaults/"+alice.Hex()+"/debt", &gov, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sequence, payload, err := storage.ReadCheckpoint(f.store, CheckpointName)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sequence)
	state, err := shutdown.DecodeState(payload)
	require.NoError(t, err)
	require.True(t, state.Initiated)
	require.True(t, state.UnbackedDebt.Eq(fixedpoint.Rad(50)))

	collabSeq, collabPayload, err := storage.ReadCheckpoint(f.store, CollaboratorsCheckpointName)
	require.NoError(t, err)
	require.Equal(t, sequence, collabSeq)
	fresh, err := scenario.NewWorld(scenario.Options{
		Self:        common.HexToAddress("0x5d0e"),
		ReservePool: common.HexToAddress("0x7e5e"),
		Config:      shutdown.DefaultConfig(),
		Assets:      []types.AssetID{flr},
	})
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(collabPayload))
	restoredVault, err := fresh.Ledger.Vault(flr, alice)
	require.NoError(t, err)
	require.True(t, restoredVault.Debt.IsZero())
	require.True(t, fresh.Ledger.ShutdownFlag())
	require.True(t, fresh.Treasury.ShutdownFlag())
	require.True(t, fresh.Ledger.Stablecoin(alice).Eq(fixedpoint.Rad(150)))

	rec = f.do(t, http.MethodGet, "/v1/shutdown/state", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[stateView](t, rec)
	require.Equal(t, "initiated", view.Phase)
	require.Equal(t, uint64(3), view.Sequence)
	require.Equal(t, "50", view.UnbackedDebt)
	require.Equal(t, "1", view.Assets["FLR"].FinalPrice)
	require.Equal(t, "50", view.Assets["FLR"].Gap)
	require.NotNil(t, view.AuctionDeadline)
	require.True(t, f.clock.Now().Add(shutdown.DefaultWaitPeriod).Equal(*view.AuctionDeadline))

	rec = f.do(t, http.MethodGet, "/v1/shutdown/vaults/FLR/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vault := decodeBody[vaultView](t, rec)
	require.Equal(t, "0", vault.Collateral)
	require.Equal(t, "0", vault.Debt)

	rec = f.do(t, http.MethodGet, "/v1/journal?type="+events.TypeShutdownDebtProcessed, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]journalEntry](t, rec)
	require.Len(t, entries, 1)
	require.Equal(t, alice.Hex(), entries[0].Holder)
	require.Equal(t, "FLR", entries[0].Asset)
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t, AuthConfig{}, RateLimit{})

	rec := f.do(t, http.MethodPost, "/v1/shutdown/final-debt-balance", &gov, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "not yet initiated")

	rec = f.do(t, http.MethodPost, "/v1/shutdown/switch", &gov, targetRequest{Target: "Oracle"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/switch", &gov, targetRequest{Target: shutdown.TargetTeller})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/wait-period", &gov, targetRequest{Target: shutdown.WaitPeriodSupplier, Seconds: 60})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shutdown/initiate", &gov, nil).Code)
	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/shutdown/initiate", &gov, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/final-price", &gov, nil).Code)
	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/final-price", &gov, nil).Code)

	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/vaults/"+alice.Hex()+"/excess", &gov, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "debt not processed")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/vaults/"+alice.Hex()+"/debt", &gov, nil).Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/vaults/"+alice.Hex()+"/excess", &gov, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "nothing to free")

	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/shutdown/final-debt-balance", &gov, nil).Code)
	f.clock.Add(time.Minute)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shutdown/final-debt-balance", &gov, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/redemption-ratio", &gov, nil).Code)

	rec = f.do(t, http.MethodPost, "/v1/shutdown/stablecoin/return", &alice, amountRequest{Amount: "10"})
	require.Equal(t, http.StatusForbidden, rec.Code, "holder role defaults to governance")
	rec = f.do(t, http.MethodPost, "/v1/shutdown/stablecoin/return", &gov, amountRequest{Amount: "1.5.0"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/stablecoin/return", &gov, map[string]string{"amount": "1", "extra": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/XRP/redeem", &gov, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "redemption ratio not set")
	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/redeem", &gov, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/assets/FLR/vaults/nobody/debt", &gov, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/shutdown/initiate", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthentication(t *testing.T) {
	secret := "s3cret"
	f := newFixture(t, AuthConfig{HMACSecret: secret, Issuer: "probity", Audience: "operators"}, RateLimit{})

	sign := func(claims jwt.MapClaims, key string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return token
	}
	valid := jwt.MapClaims{
		"sub": gov.Hex(),
		"iss": "probity",
		"aud": "operators",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/shutdown/initiate", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set(CallerHeader, gov.Hex())
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, call(""), "caller header is ignored when auth is enabled")
	require.Equal(t, http.StatusUnauthorized, call(sign(valid, "wrong")))

	wrongIssuer := jwt.MapClaims{"sub": gov.Hex(), "iss": "other", "aud": "operators", "exp": time.Now().Add(time.Hour).Unix()}
	require.Equal(t, http.StatusUnauthorized, call(sign(wrongIssuer, secret)))
	expired := jwt.MapClaims{"sub": gov.Hex(), "iss": "probity", "aud": "operators", "exp": time.Now().Add(-time.Hour).Unix()}
	require.Equal(t, http.StatusUnauthorized, call(sign(expired, secret)))
	badSubject := jwt.MapClaims{"sub": "gov", "iss": "probity", "aud": "operators", "exp": time.Now().Add(time.Hour).Unix()}
	require.Equal(t, http.StatusUnauthorized, call(sign(badSubject, secret)))

	require.Equal(t, http.StatusOK, call(sign(valid, secret)))
	require.True(t, f.world.Ledger.ShutdownFlag())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, AuthConfig{}, RateLimit{RequestsPerMinute: 1, Burst: 2})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/shutdown/phase", nil, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/shutdown/phase", nil, nil).Code)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/v1/shutdown/phase", nil, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, nil).Code)
}

func TestHolderView(t *testing.T) {
	f := newFixture(t, AuthConfig{}, RateLimit{})
	require.NoError(t, f.world.Ledger.MoveStablecoin(alice, alice, gov, fixedpoint.Rad(40)))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shutdown/initiate", &gov, nil).Code)
	rec := f.do(t, http.MethodPost, "/v1/shutdown/stablecoin/return", &gov, amountRequest{Amount: "40"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/shutdown/holders/"+gov.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[holderView](t, rec)
	require.Equal(t, "40", view.Stablecoin)
	require.False(t, view.VouchersRedeemed)
	require.Empty(t, view.CollRedeemed)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, statusFor(shutdown.ErrArithmeticOverflow))
	require.Equal(t, http.StatusForbidden, statusFor(fmt.Errorf("wrapped: %w", shutdown.ErrPermissionDenied)))
	require.Equal(t, http.StatusConflict, statusFor(shutdown.ErrNoObligation))
	require.Equal(t, http.StatusUnprocessableEntity, statusFor(shutdown.ErrZeroPrice))
}
