package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"probity/core/types"
	"probity/native/fixedpoint"
	"probity/storage/journal"
)

type assetView struct {
	FinalPrice         string `json:"finalPrice"`
	Gap                string `json:"gap"`
	RedemptionRatio    string `json:"redemptionRatio"`
	RedemptionRatioSet bool   `json:"redemptionRatioSet"`
}

type stateView struct {
	Phase                   string               `json:"phase"`
	Sequence                uint64               `json:"sequence"`
	Initiated               bool                 `json:"initiated"`
	InitiatedAt             *time.Time           `json:"initiatedAt,omitempty"`
	AuctionDeadline         *time.Time           `json:"auctionDeadline,omitempty"`
	AuctionWaitSeconds      uint64               `json:"auctionWaitSeconds"`
	SupplierWaitSeconds     uint64               `json:"supplierWaitSeconds"`
	FinalUtilizationRatio   string               `json:"finalUtilizationRatio"`
	UnbackedDebt            string               `json:"unbackedDebt"`
	FinalDebtBalance        string               `json:"finalDebtBalance,omitempty"`
	InvestorObligationRatio string               `json:"investorObligationRatio"`
	FinalTotalReserve       string               `json:"finalTotalReserve,omitempty"`
	Assets                  map[string]assetView `json:"assets"`
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.View()
	state := snap.State
	view := stateView{
		Phase:                   snap.Phase,
		Sequence:                snap.Sequence,
		Initiated:               state.Initiated,
		AuctionWaitSeconds:      uint64(state.AuctionWaitPeriod / time.Second),
		SupplierWaitSeconds:     uint64(state.SupplierWaitPeriod / time.Second),
		FinalUtilizationRatio:   fixedpoint.Format(state.FinalUtilizationRatio, fixedpoint.UnitRay),
		UnbackedDebt:            fixedpoint.Format(state.UnbackedDebt, fixedpoint.UnitRad),
		InvestorObligationRatio: fixedpoint.Format(state.InvestorObligationRatio, fixedpoint.UnitRay),
		Assets:                  make(map[string]assetView, len(state.Assets)),
	}
	if state.Initiated {
		initiated := state.InitiatedAt.UTC()
		deadline := snap.AuctionDeadline.UTC()
		view.InitiatedAt, view.AuctionDeadline = &initiated, &deadline
	}
	if state.FinalDebtBalanceSet {
		view.FinalDebtBalance = fixedpoint.Format(state.FinalDebtBalance, fixedpoint.UnitRad)
	}
	if state.FinalTotalReserveSet {
		view.FinalTotalReserve = fixedpoint.Format(state.FinalTotalReserve, fixedpoint.UnitRad)
	}
	for id, record := range state.Assets {
		view.Assets[id.String()] = assetView{
			FinalPrice:         fixedpoint.Format(record.FinalPrice, fixedpoint.UnitRay),
			Gap:                fixedpoint.Format(record.Gap, fixedpoint.UnitWad),
			RedemptionRatio:    fixedpoint.Format(record.RedemptionRatio, fixedpoint.UnitRay),
			RedemptionRatioSet: record.RedemptionRatioSet,
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getPhase(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.View()
	writeJSON(w, http.StatusOK, opResponse{Sequence: snap.Sequence, Phase: snap.Phase})
}

type holderView struct {
	Holder           string            `json:"holder"`
	Stablecoin       string            `json:"stablecoin"`
	CollRedeemed     map[string]string `json:"collRedeemed"`
	VouchersRedeemed bool              `json:"vouchersRedeemed"`
}

func (s *Server) getHolder(w http.ResponseWriter, r *http.Request) {
	holder, ok := addressParam(w, r, "holder")
	if !ok {
		return
	}
	state := s.engine.State()
	view := holderView{
		Holder:           holder.Hex(),
		Stablecoin:       fixedpoint.Format(state.Stablecoin[holder], fixedpoint.UnitRad),
		CollRedeemed:     map[string]string{},
		VouchersRedeemed: state.VouchersRedeemed[holder],
	}
	for id, holders := range state.CollRedeemed {
		if amount, ok := holders[holder]; ok {
			view.CollRedeemed[id.String()] = fixedpoint.Format(amount, fixedpoint.UnitRad)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

type vaultView struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Equity     string `json:"equity"`
}

func (s *Server) getVault(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	vault, err := s.engine.Collaborators().VaultEngine.Vault(asset, user)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, vaultView{
		Collateral: fixedpoint.Format(vault.Collateral, fixedpoint.UnitWad),
		Debt:       fixedpoint.Format(vault.Debt, fixedpoint.UnitWad),
		Equity:     fixedpoint.Format(vault.Equity, fixedpoint.UnitWad),
	})
}

type journalEntry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Caller     string            `json:"caller"`
	Asset      string            `json:"asset,omitempty"`
	Holder     string            `json:"holder,omitempty"`
	Target     string            `json:"target,omitempty"`
	Attributes map[string]string `json:"attributes"`
	OccurredAt time.Time         `json:"occurredAt"`
}

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	query := r.URL.Query()
	filter := journal.Filter{Type: strings.TrimSpace(query.Get("type"))}
	if holder := strings.TrimSpace(query.Get("holder")); holder != "" {
		if !common.IsHexAddress(holder) {
			writeError(w, http.StatusBadRequest, "invalid holder")
			return
		}
		filter.Holder = common.HexToAddress(holder).Hex()
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		filter.Since = since
	}
	entries, err := s.journal.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	out := make([]journalEntry, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Decode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, journalEntry{
			Sequence:   entry.Sequence,
			Type:       entry.Type,
			Caller:     entry.Caller,
			Asset:      entry.Asset,
			Holder:     entry.Holder,
			Target:     entry.Target,
			Attributes: attrs,
			OccurredAt: entry.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) initiate(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, s.engine.InitiateShutdown)
}

type targetRequest struct {
	Target  string `json:"target"`
	Seconds uint64 `json:"seconds"`
}

func (s *Server) switchAddress(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, r, func(ctx context.Context, caller common.Address) error {
		return s.engine.SwitchAddress(ctx, caller, req.Target, s.replacement(req.Target))
	})
}

func (s *Server) changeWaitPeriod(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	s.apply(w, r, func(ctx context.Context, caller common.Address) error {
		return s.engine.ChangeWaitPeriod(ctx, caller, req.Target, req.Seconds)
	})
}

func (s *Server) setFinalPrice(w http.ResponseWriter, r *http.Request) {
	s.assetOp(w, r, s.engine.SetFinalPrice)
}

func (s *Server) calculateRedemptionRatio(w http.ResponseWriter, r *http.Request) {
	s.assetOp(w, r, s.engine.CalculateRedemptionRatio)
}

func (s *Server) redeemCollateral(w http.ResponseWriter, r *http.Request) {
	s.assetOp(w, r, s.engine.RedeemCollateral)
}

func (s *Server) processUserDebt(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, s.engine.ProcessUserDebt)
}

func (s *Server) freeExcessCollateral(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, s.engine.FreeExcessCollateral)
}

func (s *Server) processUserEquity(w http.ResponseWriter, r *http.Request) {
	s.vaultOp(w, r, s.engine.ProcessUserEquity)
}

func (s *Server) writeOffFromReserves(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, s.engine.WriteOffFromReserves)
}

func (s *Server) setFinalDebtBalance(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, s.engine.SetFinalDebtBalance)
}

func (s *Server) calculateInvestorObligation(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, s.engine.CalculateInvestorObligation)
}

func (s *Server) setFinalSystemReserve(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, s.engine.SetFinalSystemReserve)
}

func (s *Server) redeemVouchers(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, s.engine.RedeemVouchers)
}

type amountRequest struct {
	// Amount is a rad-precision decimal string.
	Amount string `json:"amount"`
}

func (s *Server) returnStablecoin(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := fixedpoint.Parse(req.Amount, fixedpoint.UnitRad)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	s.apply(w, r, func(ctx context.Context, caller common.Address) error {
		return s.engine.ReturnStablecoin(ctx, caller, amount)
	})
}

type assetFunc func(ctx context.Context, caller common.Address, asset types.AssetID) error

type vaultFunc func(ctx context.Context, caller common.Address, asset types.AssetID, user common.Address) error

func (s *Server) assetOp(w http.ResponseWriter, r *http.Request, fn assetFunc) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	s.apply(w, r, func(ctx context.Context, caller common.Address) error {
		return fn(ctx, caller, asset)
	})
}

func (s *Server) vaultOp(w http.ResponseWriter, r *http.Request, fn vaultFunc) {
	asset, ok := assetParam(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	s.apply(w, r, func(ctx context.Context, caller common.Address) error {
		return fn(ctx, caller, asset, user)
	})
}

func assetParam(w http.ResponseWriter, r *http.Request) (types.AssetID, bool) {
	asset, err := types.ParseAssetID(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset")
		return types.AssetID{}, false
	}
	return asset, true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}
